package chat

import (
	"bytes"
	"io"
	"testing"
)

func newTestHandler(r *Registry, bc broadcaster, backoff Backoff) *Handler {
	return NewHandler(r, bc, DefaultMaxMessageSize, 3, backoff, discardLogger())
}

func TestHandle_RelaysMessage(t *testing.T) {
	r := NewRegistry(discardLogger())
	c := newFakeConn("c", readResult{msg: []byte("Hello, world!")})
	registerAll(r, c, "TestUser")
	bc := &recordingBroadcaster{}

	if !newTestHandler(r, bc, NoBackoff{}).Handle(c) {
		t.Fatalf("expected connection to stay active")
	}
	if len(bc.calls) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(bc.calls))
	}
	if bc.calls[0].msg != "Hello, world!" || bc.calls[0].sender != c {
		t.Fatalf("unexpected broadcast: %+v", bc.calls[0])
	}
}

func TestHandle_GracefulCloseAnnouncesDeparture(t *testing.T) {
	r := NewRegistry(discardLogger())
	c := newFakeConn("c", readResult{err: io.EOF})
	registerAll(r, c, "TestUser")
	bc := &recordingBroadcaster{}

	if newTestHandler(r, bc, NoBackoff{}).Handle(c) {
		t.Fatalf("expected handle to report departure")
	}
	if len(bc.calls) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(bc.calls))
	}
	if bc.calls[0].msg != "TestUser left the chat." || bc.calls[0].sender != nil {
		t.Fatalf("unexpected broadcast: %+v", bc.calls[0])
	}
}

func TestHandle_EmptyReadCountsAsClose(t *testing.T) {
	r := NewRegistry(discardLogger())
	c := newFakeConn("c", readResult{msg: []byte{}})
	bc := &recordingBroadcaster{}

	if newTestHandler(r, bc, NoBackoff{}).Handle(c) {
		t.Fatalf("expected handle to report departure")
	}
	if len(bc.calls) != 1 || bc.calls[0].msg != "Unknown left the chat." {
		t.Fatalf("unexpected broadcasts: %+v", bc.calls)
	}
}

// Repeated read errors drop the client without a departure notice, unlike a
// graceful close. Clients rely on this distinction, so it is asserted here.
func TestHandle_ReadErrorsAreSilent(t *testing.T) {
	r := NewRegistry(discardLogger())
	c := newFakeConn("c")
	c.readErr = errTransport
	registerAll(r, c, "TestUser")
	bc := &recordingBroadcaster{}
	backoff := &countingBackoff{}

	if newTestHandler(r, bc, backoff).Handle(c) {
		t.Fatalf("expected failure")
	}
	if len(bc.calls) != 0 {
		t.Fatalf("expected no broadcast, got %+v", bc.calls)
	}
	if c.readAttempts != 3 {
		t.Fatalf("expected 3 read attempts, got %d", c.readAttempts)
	}
	if len(backoff.waits) != 2 {
		t.Fatalf("expected 2 waits, got %v", backoff.waits)
	}
}

func TestHandle_RecoversFromTransientError(t *testing.T) {
	r := NewRegistry(discardLogger())
	c := newFakeConn("c",
		readResult{err: errTransport},
		readResult{msg: []byte("second try")},
	)
	registerAll(r, c, "TestUser")
	bc := &recordingBroadcaster{}

	if !newTestHandler(r, bc, NoBackoff{}).Handle(c) {
		t.Fatalf("expected success after retry")
	}
	if len(bc.calls) != 1 || bc.calls[0].msg != "second try" {
		t.Fatalf("unexpected broadcasts: %+v", bc.calls)
	}
}

func TestHandle_RejectsOversizedMessage(t *testing.T) {
	r := NewRegistry(discardLogger())
	c := newFakeConn("c", readResult{msg: bytes.Repeat([]byte("A"), 2048)})
	registerAll(r, c, "TestUser")
	bc := &recordingBroadcaster{}

	if newTestHandler(r, bc, NoBackoff{}).Handle(c) {
		t.Fatalf("expected oversized message to fail")
	}
	if len(bc.calls) != 0 {
		t.Fatalf("oversized message was broadcast")
	}
	if c.readAttempts != 1 {
		t.Fatalf("oversized message should not be retried, got %d reads", c.readAttempts)
	}
}

func TestHandle_FramerTooLargeError(t *testing.T) {
	r := NewRegistry(discardLogger())
	c := newFakeConn("c", readResult{err: ErrMessageTooLarge})
	bc := &recordingBroadcaster{}

	if newTestHandler(r, bc, NoBackoff{}).Handle(c) {
		t.Fatalf("expected failure")
	}
	if len(bc.calls) != 0 {
		t.Fatalf("unexpected broadcast")
	}
}

func TestHandle_BlankLineKeepsConnection(t *testing.T) {
	r := NewRegistry(discardLogger())
	c := newFakeConn("c", readResult{err: ErrNoMessage})
	bc := &recordingBroadcaster{}

	if !newTestHandler(r, bc, NoBackoff{}).Handle(c) {
		t.Fatalf("blank line should keep the connection")
	}
	if len(bc.calls) != 0 {
		t.Fatalf("blank line was broadcast")
	}
}
