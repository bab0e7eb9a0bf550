package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var errEmptyNickname = errors.New("empty nickname")

// Acceptor runs the nickname handshake for new connections and registers the
// ones that complete it.
type Acceptor struct {
	reg     *Registry
	bc      broadcaster
	maxSize int
	timeout time.Duration
	logger  *slog.Logger
}

func NewAcceptor(reg *Registry, bc broadcaster, maxSize int, timeout time.Duration, logger *slog.Logger) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Acceptor{
		reg:     reg,
		bc:      bc,
		maxSize: maxSize,
		timeout: timeout,
		logger:  logger,
	}
}

// Admit asks c for its nickname, registers it and announces it to everyone
// else. Trailing "\r\n" is trimmed from the nickname and an empty one fails
// the handshake. On failure c is closed and left unregistered.
func (a *Acceptor) Admit(c Conn) error {
	a.logger.Info("client connected", "conn", c.ID(), "addr", c.RemoteAddr())

	nickname, err := a.handshake(c)
	if err != nil {
		_ = c.Close()
		EvictionsTotal.WithLabelValues("handshake").Inc()
		return fmt.Errorf("%w: %s: %w", ErrHandshake, c.ID(), err)
	}
	if err := a.reg.Register(c, nickname); err != nil {
		_ = c.Close()
		return fmt.Errorf("%w: %s: %w", ErrHandshake, c.ID(), err)
	}

	a.logger.Info("client registered", "conn", c.ID(), "nickname", nickname)
	a.bc.Broadcast(joinNotice(nickname), c)
	return nil
}

func (a *Acceptor) handshake(c Conn) (string, error) {
	if err := c.WriteMessage([]byte(HandshakeRequest)); err != nil {
		return "", fmt.Errorf("send %s: %w", HandshakeRequest, err)
	}

	if a.timeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
			return "", err
		}
		defer func() { _ = c.SetReadDeadline(time.Time{}) }()
	}

	if err := c.Ready(); err != nil {
		return "", fmt.Errorf("read nickname: %w", err)
	}
	msg, err := c.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read nickname: %w", err)
	}
	if len(msg) > a.maxSize {
		return "", fmt.Errorf("nickname of %d bytes: %w", len(msg), ErrMessageTooLarge)
	}
	nickname := strings.TrimRight(string(msg), "\r\n")
	if nickname == "" {
		return "", errEmptyNickname
	}
	return nickname, nil
}
