package client

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andy6609/broadcast-chat-server/internal/chat"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestClient_HandshakeRelayAndSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	type result struct {
		nickname, line string
		err            error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- result{err: err}
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

		buf := make([]byte, 1024)
		if _, err := conn.Write([]byte("NICK")); err != nil {
			done <- result{err: err}
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			done <- result{err: err}
			return
		}
		nickname := string(buf[:n])
		if _, err := conn.Write([]byte("alice joined the chat")); err != nil {
			done <- result{err: err}
			return
		}
		n, err = conn.Read(buf)
		done <- result{nickname: nickname, line: string(buf[:n]), err: err}
	}()

	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := Dial(context.Background(), ln.Addr().String(), "bob", chat.FramingRaw, out, logger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	in, inW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, in) }()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), "alice joined the chat") {
		if time.Now().After(deadline) {
			t.Fatalf("relayed message not printed, have %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if strings.Contains(out.String(), "NICK") {
		t.Fatalf("handshake request was printed")
	}

	if _, err := inW.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("server side: %v", res.err)
	}
	if res.nickname != "bob" || res.line != "bob: hello" {
		t.Fatalf("server saw nickname %q line %q", res.nickname, res.line)
	}

	cancel()
	_ = inW.Close()
	select {
	case <-runErr:
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestDial_RejectsEmptyNickname(t *testing.T) {
	if _, err := Dial(context.Background(), "127.0.0.1:1", "", chat.FramingRaw, io.Discard, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDial_RejectsUnknownFraming(t *testing.T) {
	if _, err := Dial(context.Background(), "127.0.0.1:1", "bob", "length-prefixed", io.Discard, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClient_LineFramedServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := chat.NewServer(chat.Options{
		Addr:             "127.0.0.1:0",
		Framing:          chat.FramingLine,
		Backoff:          chat.NoBackoff{},
		HandshakeTimeout: 2 * time.Second,
	}, logger)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)

	alice, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = alice.Close() })
	_ = alice.SetReadDeadline(time.Now().Add(3 * time.Second))
	aliceIn := bufio.NewReader(alice)
	readLine := func() string {
		t.Helper()
		line, err := aliceIn.ReadString('\n')
		if err != nil {
			t.Fatalf("alice read: %v (partial %q)", err, line)
		}
		return line
	}
	if got := readLine(); got != "NICK\n" {
		t.Fatalf("handshake request %q", got)
	}
	if _, err := alice.Write([]byte("alice\n")); err != nil {
		t.Fatal(err)
	}

	out := &syncBuffer{}
	c, err := Dial(context.Background(), srv.Addr(), "bob", chat.FramingLine, out, logger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	in, inW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, in) }()

	if got := readLine(); got != "bob joined the chat\n" {
		t.Fatalf("alice got %q", got)
	}
	if _, err := inW.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	if got := readLine(); got != "bob: hello\n" {
		t.Fatalf("alice got %q", got)
	}

	if _, err := alice.Write([]byte("alice: hi\n")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), "alice: hi\n") {
		if time.Now().After(deadline) {
			t.Fatalf("relayed message not printed, have %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if strings.Contains(out.String(), "NICK") {
		t.Fatalf("handshake request was printed")
	}

	cancel()
	_ = inW.Close()
	select {
	case <-runErr:
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
