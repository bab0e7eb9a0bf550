package chat

import "time"

// Backoff decides how long to wait between failed I/O attempts. Wait runs on
// the event loop goroutine, so a blocking implementation stalls every client.
type Backoff interface {
	Wait(attempt int)
}

// FixedBackoff sleeps for Delay after every failed attempt.
type FixedBackoff struct {
	Delay time.Duration
}

func (b FixedBackoff) Wait(int) {
	if b.Delay > 0 {
		time.Sleep(b.Delay)
	}
}

// NoBackoff retries immediately.
type NoBackoff struct{}

func (NoBackoff) Wait(int) {}

// retryPolicy bundles the attempt budget shared by the broadcaster and the
// handler.
type retryPolicy struct {
	attempts int
	backoff  Backoff
}

func newRetryPolicy(attempts int, backoff Backoff) retryPolicy {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if backoff == nil {
		backoff = FixedBackoff{Delay: DefaultRetryDelay}
	}
	return retryPolicy{attempts: attempts, backoff: backoff}
}
