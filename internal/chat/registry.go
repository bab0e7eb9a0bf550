package chat

import (
	"fmt"
	"log/slog"
)

// Registry holds the live connections and their nicknames. It is not safe
// for concurrent use: the event loop goroutine is its only owner.
type Registry struct {
	conns     []Conn
	nicknames map[Conn]string
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		nicknames: make(map[Conn]string),
		logger:    logger,
	}
}

// Register adds c to the active set under nickname.
func (r *Registry) Register(c Conn, nickname string) error {
	if !validConn(c) {
		return ErrInvalidConn
	}
	if r.Has(c) {
		return fmt.Errorf("register %s: %w", c.ID(), ErrAlreadyRegistered)
	}
	r.conns = append(r.conns, c)
	r.nicknames[c] = nickname
	ConnectedClients.Set(float64(len(r.conns)))
	return nil
}

// Remove drops c from the active set and the nickname map and closes it.
// The transport is closed even when c is unknown. The returned bool reports
// whether c had a nickname.
func (r *Registry) Remove(c Conn) (bool, error) {
	if !validConn(c) {
		return false, ErrInvalidConn
	}

	for i, cur := range r.conns {
		if cur == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			break
		}
	}

	nickname, known := r.nicknames[c]
	if known {
		delete(r.nicknames, c)
		r.logger.Info("client disconnected", "conn", c.ID(), "nickname", nickname)
	}
	ConnectedClients.Set(float64(len(r.conns)))

	if err := c.Close(); err != nil {
		r.logger.Debug("close connection", "conn", c.ID(), "error", err)
	}
	return known, nil
}

// NicknameOf returns the nickname recorded for c, or UnknownNickname.
func (r *Registry) NicknameOf(c Conn) string {
	if nickname, ok := r.nicknames[c]; ok {
		return nickname
	}
	return UnknownNickname
}

func (r *Registry) Has(c Conn) bool {
	for _, cur := range r.conns {
		if cur == c {
			return true
		}
	}
	return false
}

func (r *Registry) Len() int { return len(r.conns) }

// Conns returns a snapshot of the active set in insertion order.
func (r *Registry) Conns() []Conn {
	out := make([]Conn, len(r.conns))
	copy(out, r.conns)
	return out
}

// Nicknames returns the nicknames of the active set in insertion order.
func (r *Registry) Nicknames() []string {
	out := make([]string, 0, len(r.conns))
	for _, c := range r.conns {
		if nickname, ok := r.nicknames[c]; ok {
			out = append(out, nickname)
		}
	}
	return out
}

func validConn(c Conn) bool {
	return c != nil && c.ID() != ""
}
