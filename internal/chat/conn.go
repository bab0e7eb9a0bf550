package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// tcpConn adapts a net.Conn to Conn. Reads go through a bufio.Reader so
// Ready can wait for a whole frame without consuming it. ReadMessage never
// touches the socket: it serves buffered frames or the error Ready saw.
type tcpConn struct {
	id           string
	conn         net.Conn
	reader       *bufio.Reader
	framer       Framer
	writeTimeout time.Duration
	readyErr     error

	closeOnce sync.Once
	closeErr  error
}

func newTCPConn(conn net.Conn, framer Framer, maxSize int, writeTimeout time.Duration) *tcpConn {
	return &tcpConn{
		id:           uuid.NewString(),
		conn:         conn,
		reader:       NewReader(conn, maxSize),
		framer:       framer,
		writeTimeout: writeTimeout,
	}
}

func (c *tcpConn) ID() string { return c.id }

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *tcpConn) Ready() error {
	c.readyErr = c.framer.Ready(c.reader)
	return c.readyErr
}

func (c *tcpConn) ReadMessage() ([]byte, error) {
	msg, err := c.framer.ReadMessage(c.reader)
	if errors.Is(err, errIncomplete) {
		if c.readyErr != nil {
			return nil, c.readyErr
		}
		return nil, ErrNoMessage
	}
	return msg, err
}

func (c *tcpConn) WriteMessage(msg []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.framer.WriteMessage(c.conn, msg)
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// TCPListener accepts stream connections and wraps them with the configured
// framing.
type TCPListener struct {
	ln           net.Listener
	framer       Framer
	maxSize      int
	writeTimeout time.Duration
}

// ListenTCP binds addr with address reuse enabled.
func ListenTCP(ctx context.Context, addr string, framer Framer, maxSize int, writeTimeout time.Duration) (*TCPListener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &TCPListener{ln: ln, framer: framer, maxSize: maxSize, writeTimeout: writeTimeout}, nil
}

func (l *TCPListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return newTCPConn(conn, l.framer, l.maxSize, l.writeTimeout), nil
}

func (l *TCPListener) Addr() string { return l.ln.Addr().String() }

func (l *TCPListener) Close() error { return l.ln.Close() }
