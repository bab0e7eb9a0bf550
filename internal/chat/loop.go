package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

const acceptRetryDelay = 50 * time.Millisecond

type eventKind int

const (
	eventAccepted eventKind = iota
	eventReadable
)

type readiness struct {
	kind eventKind
	conn Conn
	err  error
}

// exceptional reports whether the watcher hit a transport error rather than
// data or a graceful close.
func (r readiness) exceptional() bool {
	return r.err != nil && !errors.Is(r.err, io.EOF)
}

type watcher struct {
	resume chan bool
}

// Loop is the single goroutine that owns the registry. Watcher goroutines
// only report readiness; all reads, writes and registry changes happen in
// Run.
type Loop struct {
	reg       *Registry
	handler   *Handler
	acceptor  *Acceptor
	listeners []Listener
	logger    *slog.Logger

	events   chan readiness
	watchers map[Conn]*watcher
	done     chan struct{}
}

func NewLoop(reg *Registry, handler *Handler, acceptor *Acceptor, listeners []Listener, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		reg:       reg,
		handler:   handler,
		acceptor:  acceptor,
		listeners: listeners,
		logger:    logger,
		events:    make(chan readiness, 64),
		watchers:  make(map[Conn]*watcher),
		done:      make(chan struct{}),
	}
}

// Run processes readiness events until ctx is done, then closes every
// registered connection. Listeners are owned by the caller. Run must be
// called at most once.
func (l *Loop) Run(ctx context.Context) {
	for _, ln := range l.listeners {
		go l.acceptWatcher(ctx, ln)
	}
	defer l.shutdown()

	for {
		var batch []readiness
		select {
		case <-ctx.Done():
			return
		case ev := <-l.events:
			batch = append(batch, ev)
		}
		l.process(l.drain(batch))
	}
}

func (l *Loop) drain(batch []readiness) []readiness {
	for {
		select {
		case ev := <-l.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func (l *Loop) process(batch []readiness) {
	for _, ev := range batch {
		if ev.kind != eventAccepted {
			continue
		}
		start := time.Now()
		if err := l.acceptor.Admit(ev.conn); err != nil {
			l.logger.Warn("client rejected", "conn", ev.conn.ID(), "error", err)
		} else {
			l.watch(ev.conn)
		}
		observe("accept", start)
	}

	for _, ev := range batch {
		if ev.kind != eventReadable || !l.reg.Has(ev.conn) {
			continue
		}
		start := time.Now()
		if !l.handler.Handle(ev.conn) {
			l.remove(ev.conn, "read")
		}
		observe("message", start)
	}

	for _, ev := range batch {
		if ev.kind == eventReadable && ev.exceptional() {
			l.remove(ev.conn, "exceptional")
		}
	}

	for _, ev := range batch {
		if ev.kind == eventReadable {
			l.settle(ev.conn)
		}
	}
}

func (l *Loop) remove(c Conn, reason string) {
	registered := l.reg.Has(c)
	if _, err := l.reg.Remove(c); err != nil {
		l.logger.Error("remove connection", "conn", c.ID(), "error", err)
		return
	}
	if registered {
		EvictionsTotal.WithLabelValues(reason).Inc()
		MessagesTotal.WithLabelValues("remove").Inc()
	}
}

// settle lets the watcher of c poll again, or retires it once c is gone.
func (l *Loop) settle(c Conn) {
	w, ok := l.watchers[c]
	if !ok {
		return
	}
	if l.reg.Has(c) {
		w.resume <- true
		return
	}
	w.resume <- false
	delete(l.watchers, c)
}

func (l *Loop) watch(c Conn) {
	w := &watcher{resume: make(chan bool, 1)}
	l.watchers[c] = w
	go l.connWatcher(c, w)
}

func (l *Loop) connWatcher(c Conn, w *watcher) {
	for {
		err := c.Ready()
		select {
		case l.events <- readiness{kind: eventReadable, conn: c, err: err}:
		case <-l.done:
			return
		}
		select {
		case ok := <-w.resume:
			if !ok {
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *Loop) acceptWatcher(ctx context.Context, ln Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, ErrListenerClosed) || ctx.Err() != nil {
				return
			}
			l.logger.Warn("accept failed", "listener", ln.Addr(), "error", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		select {
		case l.events <- readiness{kind: eventAccepted, conn: c}:
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-l.done:
			_ = c.Close()
			return
		}
	}
}

func (l *Loop) shutdown() {
	close(l.done)
	l.logger.Info("closing connections", "clients", l.reg.Nicknames())
	for _, c := range l.reg.Conns() {
		_, _ = l.reg.Remove(c)
	}
	clear(l.watchers)

	for _, ev := range l.drain(nil) {
		if ev.kind == eventAccepted {
			_ = ev.conn.Close()
		}
	}
}

func observe(eventType string, start time.Time) {
	MessagesTotal.WithLabelValues(eventType).Inc()
	EventProcessingDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
}
