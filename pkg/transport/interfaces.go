package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
)

// Close codes reported to Events.OnClose. Codes above 1000 follow the
// WebSocket close code registry; CloseAbnormal is used when the
// connection died without a close frame.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Conn is a live message-framed duplex connection. Sends are serialized
// internally; Conn is safe for concurrent use.
type Conn interface {
	// Send transmits one text frame.
	Send(data []byte) error

	// Close tears the connection down. The OnClose event still fires
	// exactly once. Close is idempotent.
	Close() error
}

// Events receives connection events. Callbacks are optional; nil
// callbacks are skipped.
type Events struct {
	// OnMessage is invoked for every inbound frame.
	OnMessage func(data []byte)

	// OnError is invoked for read failures that are not clean closures.
	OnError func(err error)

	// OnClose is invoked exactly once when the connection ends, with
	// the close code and reason when the peer supplied them.
	OnClose func(code int, reason string)
}

// Dialer establishes connections to the event service.
type Dialer interface {
	// Dial connects to the given address and starts delivering events.
	Dial(ctx context.Context, address string, events Events) (Conn, error)
}
