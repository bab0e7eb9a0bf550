package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Options configures a Server. Zero values fall back to the package
// defaults.
type Options struct {
	Addr   string
	WSAddr string

	// Backlog is reported at startup only: the net package always listens
	// with the kernel's somaxconn.
	Backlog int

	MaxMessageSize   int
	Framing          string
	RetryAttempts    int
	Backoff          Backoff
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

type Server struct {
	opts   Options
	logger *slog.Logger

	listeners []Listener
	tcp       *TCPListener
	ws        *WSListener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{
		opts:   opts,
		logger: logger,
	}
}

// Start binds the listeners and launches the event loop.
func (s *Server) Start() error {
	framer, err := NewFramer(s.opts.Framing, s.opts.MaxMessageSize)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	tcp, err := ListenTCP(ctx, s.opts.Addr, framer, s.opts.MaxMessageSize, s.opts.WriteTimeout)
	if err != nil {
		cancel()
		return err
	}
	s.tcp = tcp
	s.listeners = append(s.listeners, tcp)

	if s.opts.WSAddr != "" {
		ws, err := ListenWS(s.opts.WSAddr, s.opts.MaxMessageSize, s.opts.WriteTimeout, s.logger)
		if err != nil {
			cancel()
			_ = tcp.Close()
			return fmt.Errorf("start websocket listener: %w", err)
		}
		s.ws = ws
		s.listeners = append(s.listeners, ws)
	}

	reg := NewRegistry(s.logger)
	bc := NewBroadcaster(reg, s.opts.RetryAttempts, s.opts.Backoff, s.logger)
	handler := NewHandler(reg, bc, s.opts.MaxMessageSize, s.opts.RetryAttempts, s.opts.Backoff, s.logger)
	acceptor := NewAcceptor(reg, bc, s.opts.MaxMessageSize, s.opts.HandshakeTimeout, s.logger)
	loop := NewLoop(reg, handler, acceptor, s.listeners, s.logger)

	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		loop.Run(ctx)
	}()

	framing := s.opts.Framing
	if framing == "" {
		framing = FramingRaw
	}
	attrs := []any{"addr", tcp.Addr(), "framing", framing, "backlog", s.opts.Backlog}
	if s.ws != nil {
		attrs = append(attrs, "ws_addr", s.ws.Addr())
	}
	s.logger.Info("server started", attrs...)
	return nil
}

// Addr returns the bound TCP address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.tcp == nil {
		return ""
	}
	return s.tcp.Addr()
}

func (s *Server) WSAddr() string {
	if s.ws == nil {
		return ""
	}
	return s.ws.Addr()
}

func (s *Server) Stop() {
	s.logger.Info("shutting down")

	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.logger.Info("shutdown complete")
}
