package chat

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var errTransport = errors.New("connection reset by peer")

type readResult struct {
	msg []byte
	err error
}

// fakeConn is an in-memory Conn. Reads are served from a queue; once the
// queue is empty readErr is returned (io.EOF when unset). The first
// failWrites writes fail; a negative value fails every write.
type fakeConn struct {
	id         string
	reads      []readResult
	readErr    error
	failWrites int
	readyErr   error

	mu            sync.Mutex
	written       [][]byte
	writeAttempts int
	readAttempts  int
	closeCalls    int
	closed        int
	deadlines     []time.Time
}

func newFakeConn(id string, reads ...readResult) *fakeConn {
	return &fakeConn{id: id, reads: reads}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) RemoteAddr() string { return "fake/" + c.id }

func (c *fakeConn) Ready() error { return c.readyErr }

func (c *fakeConn) ReadMessage() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readAttempts++
	if len(c.reads) > 0 {
		r := c.reads[0]
		c.reads = c.reads[1:]
		return r.msg, r.err
	}
	if c.readErr != nil {
		return nil, c.readErr
	}
	return nil, io.EOF
}

func (c *fakeConn) WriteMessage(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeAttempts++
	if c.failWrites < 0 || c.writeAttempts <= c.failWrites {
		return errTransport
	}
	c.written = append(c.written, append([]byte(nil), msg...))
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, t)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closeCalls == 1 {
		c.closed++
	}
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, m := range c.written {
		out[i] = string(m)
	}
	return out
}

type broadcastCall struct {
	msg    string
	sender Conn
}

type recordingBroadcaster struct {
	calls []broadcastCall
}

func (b *recordingBroadcaster) Broadcast(msg []byte, sender Conn) {
	b.calls = append(b.calls, broadcastCall{msg: string(msg), sender: sender})
}

type countingBackoff struct {
	waits []int
}

func (b *countingBackoff) Wait(attempt int) {
	b.waits = append(b.waits, attempt)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registerAll(r *Registry, pairs ...any) {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := r.Register(pairs[i].(Conn), pairs[i+1].(string)); err != nil {
			panic(err)
		}
	}
}

func countOf(list []string, want string) int {
	n := 0
	for _, s := range list {
		if s == want {
			n++
		}
	}
	return n
}
