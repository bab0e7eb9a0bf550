package chat

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket connection to Conn. Every text or binary frame
// is one chat message, so no Framer is involved.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	maxSize      int
	writeTimeout time.Duration

	pending io.Reader
	readErr error

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn, maxSize int, writeTimeout time.Duration) *wsConn {
	// The close reply is sent from Close once the registry drops the conn, so
	// the departure notice can still be written.
	ws.SetCloseHandler(func(int, string) error { return nil })
	return &wsConn{
		id:           uuid.NewString(),
		ws:           ws,
		maxSize:      maxSize,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

func (c *wsConn) Ready() error {
	if c.pending != nil || c.readErr != nil {
		return c.readErr
	}
	_, r, err := c.ws.NextReader()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = io.EOF
		}
		c.readErr = err
		return err
	}
	c.pending = r
	return nil
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	r := c.pending
	c.pending = nil

	msg, err := io.ReadAll(io.LimitReader(r, int64(c.maxSize)+1))
	if err != nil {
		return nil, err
	}
	if len(msg) > c.maxSize {
		return nil, fmt.Errorf("websocket frame over %d bytes: %w", c.maxSize, ErrMessageTooLarge)
	}
	return msg, nil
}

func (c *wsConn) WriteMessage(msg []byte) error {
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// WSListener upgrades HTTP requests to WebSocket connections and hands them
// to the event loop through Accept.
type WSListener struct {
	ln           net.Listener
	srv          *http.Server
	upgrader     websocket.Upgrader
	maxSize      int
	writeTimeout time.Duration
	logger       *slog.Logger

	conns     chan Conn
	done      chan struct{}
	closeOnce sync.Once
}

// ListenWS starts an HTTP server on addr that accepts WebSocket upgrades on
// every path.
func ListenWS(addr string, maxSize int, writeTimeout time.Duration, logger *slog.Logger) (*WSListener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen websocket %s: %w", addr, err)
	}

	l := &WSListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxSize,
			WriteBufferSize: maxSize,
		},
		maxSize:      maxSize,
		writeTimeout: writeTimeout,
		logger:       logger,
		conns:        make(chan Conn),
		done:         make(chan struct{}),
	}
	l.srv = &http.Server{
		Handler:           http.HandlerFunc(l.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket server stopped", "error", err)
		}
	}()
	return l, nil
}

func (l *WSListener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newWSConn(ws, l.maxSize, l.writeTimeout)
	select {
	case l.conns <- c:
	case <-l.done:
		_ = c.Close()
	}
}

func (l *WSListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

func (l *WSListener) Addr() string { return l.ln.Addr().String() }

func (l *WSListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}
