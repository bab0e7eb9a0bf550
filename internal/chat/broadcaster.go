package chat

import (
	"log/slog"
)

type announcement struct {
	msg    []byte
	sender Conn
}

// Broadcaster relays messages to every registered connection except the
// sender. Targets that keep failing are evicted once the pass is over and a
// departure notice is queued for them.
type Broadcaster struct {
	reg    *Registry
	retry  retryPolicy
	logger *slog.Logger
}

func NewBroadcaster(reg *Registry, attempts int, backoff Backoff, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		reg:    reg,
		retry:  newRetryPolicy(attempts, backoff),
		logger: logger,
	}
}

// Broadcast delivers msg to all registered connections except sender. A nil
// sender excludes no one.
func (b *Broadcaster) Broadcast(msg []byte, sender Conn) {
	queue := []announcement{{msg: msg, sender: sender}}

	// Each eviction queues one more notice; the set shrinks every time, so
	// the queue drains.
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		for _, failed := range b.deliver(next) {
			nickname := b.reg.NicknameOf(failed)
			if _, err := b.reg.Remove(failed); err != nil {
				b.logger.Error("evict connection", "conn", failed.ID(), "error", err)
				continue
			}
			EvictionsTotal.WithLabelValues("send_failed").Inc()
			queue = append(queue, announcement{msg: leaveNotice(nickname)})
		}
	}
}

// deliver sends one announcement and returns the targets that exhausted
// their attempts. The registry is not modified here.
func (b *Broadcaster) deliver(a announcement) []Conn {
	var failed []Conn
	for _, c := range b.reg.Conns() {
		if a.sender != nil && c == a.sender {
			continue
		}
		if !b.send(c, a.msg) {
			failed = append(failed, c)
		}
	}
	return failed
}

func (b *Broadcaster) send(c Conn, msg []byte) bool {
	for attempt := 1; attempt <= b.retry.attempts; attempt++ {
		b.logger.Debug("sending message", "conn", c.ID(), "bytes", len(msg), "attempt", attempt)
		err := c.WriteMessage(msg)
		if err == nil {
			return true
		}
		SendRetriesTotal.Inc()
		b.logger.Warn("send failed", "conn", c.ID(), "attempt", attempt, "error", err)
		if attempt < b.retry.attempts {
			b.retry.backoff.Wait(attempt)
		}
	}
	return false
}
