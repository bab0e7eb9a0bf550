package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/andy6609/broadcast-chat-server/internal/chat"
	"github.com/andy6609/broadcast-chat-server/internal/client"
)

func main() {
	addr := pflag.String("addr", "127.0.0.1:55555", "chat server address")
	nick := pflag.String("nick", "", "nickname (prompted when empty)")
	framing := pflag.String("framing", chat.FramingRaw, "message framing, must match the server: raw or line")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	stdin := bufio.NewReader(os.Stdin)
	nickname := strings.TrimSpace(*nick)
	if nickname == "" {
		fmt.Print("Enter your nickname: ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			logger.Error("read nickname", "error", err)
			os.Exit(1)
		}
		nickname = strings.TrimSpace(line)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *addr, nickname, *framing, os.Stdout, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Could not connect to the server. Make sure the server is online.")
		logger.Error("dial", "error", err)
		os.Exit(1)
	}
	fmt.Println("Connected to the server")

	if err := c.Run(ctx, stdin); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "An error occurred!")
		os.Exit(1)
	}
}
