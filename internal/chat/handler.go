package chat

import (
	"errors"
	"io"
	"log/slog"
)

type broadcaster interface {
	Broadcast(msg []byte, sender Conn)
}

// Handler reads one message from a ready connection and relays it.
type Handler struct {
	reg     *Registry
	bc      broadcaster
	retry   retryPolicy
	maxSize int
	logger  *slog.Logger
}

func NewHandler(reg *Registry, bc broadcaster, maxSize, attempts int, backoff Backoff, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Handler{
		reg:     reg,
		bc:      bc,
		retry:   newRetryPolicy(attempts, backoff),
		maxSize: maxSize,
		logger:  logger,
	}
}

// Handle reports whether c should stay registered. A graceful close is
// announced to everyone; a connection that keeps failing to read is dropped
// without any announcement.
func (h *Handler) Handle(c Conn) bool {
	for attempt := 1; attempt <= h.retry.attempts; attempt++ {
		msg, err := c.ReadMessage()
		switch {
		case errors.Is(err, ErrNoMessage):
			return true
		case errors.Is(err, ErrMessageTooLarge):
			h.logger.Warn("oversized message", "conn", c.ID(), "limit", h.maxSize)
			return false
		case errors.Is(err, io.EOF) || (err == nil && len(msg) == 0):
			h.bc.Broadcast(leaveNotice(h.reg.NicknameOf(c)), nil)
			return false
		case err != nil:
			h.logger.Warn("receive failed", "conn", c.ID(), "attempt", attempt, "error", err)
			if attempt < h.retry.attempts {
				h.retry.backoff.Wait(attempt)
			}
			continue
		}

		if len(msg) > h.maxSize {
			h.logger.Warn("oversized message", "conn", c.ID(), "bytes", len(msg), "limit", h.maxSize)
			return false
		}
		h.logger.Debug("relaying message", "conn", c.ID(), "bytes", len(msg))
		h.bc.Broadcast(msg, c)
		return true
	}
	return false
}
