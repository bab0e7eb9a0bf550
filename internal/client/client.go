// Package client implements the terminal side of the chat: it answers the
// server's nickname request, prints everything the server relays and sends
// each input line prefixed with the nickname.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/andy6609/broadcast-chat-server/internal/chat"
)

type Client struct {
	conn     net.Conn
	reader   *bufio.Reader
	framer   chat.Framer
	nickname string
	out      io.Writer
	logger   *slog.Logger

	closeOnce sync.Once
}

// Dial connects to addr and speaks the named framing, which must match the
// server's. Messages from the server are written to out, one per line.
func Dial(ctx context.Context, addr, nickname, framing string, out io.Writer, logger *slog.Logger) (*Client, error) {
	if nickname == "" {
		return nil, errors.New("nickname must not be empty")
	}
	framer, err := chat.NewFramer(framing, chat.DefaultMaxMessageSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Client{
		conn:     conn,
		reader:   chat.NewReader(conn, chat.DefaultMaxMessageSize),
		framer:   framer,
		nickname: nickname,
		out:      out,
		logger:   logger,
	}, nil
}

// Run starts the receive and write activities and blocks until either one
// stops or ctx is cancelled. The connection is closed on return.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	errCh := make(chan error, 2)
	go func() { errCh <- c.receive() }()
	go func() { errCh <- c.write(in) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	c.Close()
	return err
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func (c *Client) receive() error {
	for {
		if err := c.framer.Ready(c.reader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.logger.Error("connection lost", "error", err)
			return fmt.Errorf("receive: %w", err)
		}
		msg, err := c.framer.ReadMessage(c.reader)
		if errors.Is(err, chat.ErrNoMessage) {
			continue
		}
		if err != nil {
			c.logger.Warn("dropped message", "error", err)
			continue
		}
		if string(msg) == chat.HandshakeRequest {
			if err := c.framer.WriteMessage(c.conn, []byte(c.nickname)); err != nil {
				return fmt.Errorf("send nickname: %w", err)
			}
			continue
		}
		if _, err := fmt.Fprintln(c.out, string(msg)); err != nil {
			return err
		}
	}
}

func (c *Client) write(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := c.framer.WriteMessage(c.conn, []byte(c.nickname+": "+line)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return scanner.Err()
}
