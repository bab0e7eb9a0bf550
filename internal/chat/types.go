package chat

import "time"

// Conn is a single client endpoint as tracked by the server. Implementations
// must tolerate Close being called more than once; the underlying transport
// is closed only the first time.
type Conn interface {
	ID() string
	RemoteAddr() string
	// Ready blocks until a ReadMessage call would not block. It returns nil
	// when data is pending, io.EOF after a graceful close, or the transport
	// error.
	Ready() error
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Listener hands out new, not yet registered connections.
type Listener interface {
	Accept() (Conn, error)
	Addr() string
	Close() error
}

const (
	DefaultMaxMessageSize = 1024
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second

	// HandshakeRequest is sent to every new connection before it is registered.
	HandshakeRequest = "NICK"
	// UnknownNickname stands in for connections that never finished the handshake.
	UnknownNickname = "Unknown"
)

var (
	ErrInvalidConn       = errorString("invalid connection")
	ErrAlreadyRegistered = errorString("connection already registered")
	ErrHandshake         = errorString("handshake failed")
	ErrMessageTooLarge   = errorString("message too large")
	ErrNoMessage         = errorString("no message")
	ErrListenerClosed    = errorString("listener closed")
)

type errorString string

func (e errorString) Error() string { return string(e) }

func joinNotice(nickname string) []byte {
	return []byte(nickname + " joined the chat")
}

func leaveNotice(nickname string) []byte {
	return []byte(nickname + " left the chat.")
}
