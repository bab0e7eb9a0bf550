package chat

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// errIncomplete means the buffer does not hold a whole message yet.
var errIncomplete = errors.New("incomplete message")

// Framer turns a byte stream into discrete messages. Ready may block;
// ReadMessage only consumes what is already buffered, so a call after a nil
// Ready never blocks.
type Framer interface {
	Ready(r *bufio.Reader) error
	ReadMessage(r *bufio.Reader) ([]byte, error)
	WriteMessage(w io.Writer, msg []byte) error
}

const (
	FramingRaw  = "raw"
	FramingLine = "line"
)

// NewFramer returns the framer registered under name.
func NewFramer(name string, maxSize int) (Framer, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	switch name {
	case "", FramingRaw:
		return rawFramer{maxSize: maxSize}, nil
	case FramingLine:
		return lineFramer{maxSize: maxSize}, nil
	default:
		return nil, fmt.Errorf("unknown framing %q", name)
	}
}

// NewReader returns a reader large enough to hold one oversized line, so a
// framer can tell "too long" from "not finished".
func NewReader(r io.Reader, maxSize int) *bufio.Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return bufio.NewReaderSize(r, max(4096, maxSize+2))
}

// rawFramer treats whatever is buffered after a read as one message. Writes
// go out unmodified. Peers that send faster than the server reads will see
// their messages merged or split.
type rawFramer struct {
	maxSize int
}

func (rawFramer) Ready(r *bufio.Reader) error {
	_, err := r.Peek(1)
	return err
}

func (f rawFramer) ReadMessage(r *bufio.Reader) ([]byte, error) {
	n := min(r.Buffered(), f.maxSize)
	if n == 0 {
		return nil, errIncomplete
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (rawFramer) WriteMessage(w io.Writer, msg []byte) error {
	_, err := w.Write(msg)
	return err
}

// lineFramer delimits messages with '\n'. The delimiter and a trailing '\r'
// are stripped on read and a single '\n' is appended on write. Blank lines
// yield ErrNoMessage. An unterminated line left when the peer closes is
// dropped.
type lineFramer struct {
	maxSize int
}

func (f lineFramer) Ready(r *bufio.Reader) error {
	for {
		n := r.Buffered()
		if n > 0 {
			peeked, _ := r.Peek(n)
			if bytes.IndexByte(peeked, '\n') >= 0 || n > f.maxSize+1 {
				return nil
			}
		}
		if _, err := r.Peek(n + 1); err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return nil
			}
			return err
		}
	}
}

func (f lineFramer) ReadMessage(r *bufio.Reader) ([]byte, error) {
	n := r.Buffered()
	peeked, _ := r.Peek(n)
	idx := bytes.IndexByte(peeked, '\n')
	if idx < 0 {
		if n > f.maxSize+1 {
			_, _ = r.Discard(n)
			return nil, fmt.Errorf("line of %d+ bytes: %w", n, ErrMessageTooLarge)
		}
		return nil, errIncomplete
	}

	line := bytes.TrimRight(peeked[:idx+1], "\r\n")
	if len(line) > f.maxSize {
		_, _ = r.Discard(idx + 1)
		return nil, fmt.Errorf("line of %d bytes: %w", len(line), ErrMessageTooLarge)
	}
	out := append([]byte(nil), line...)
	_, _ = r.Discard(idx + 1)
	if len(out) == 0 {
		return nil, ErrNoMessage
	}
	return out, nil
}

func (lineFramer) WriteMessage(w io.Writer, msg []byte) error {
	out := make([]byte, 0, len(msg)+1)
	out = append(out, msg...)
	out = append(out, '\n')
	_, err := w.Write(out)
	return err
}
