package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Default WebSocket settings.
const (
	// DefaultHandshakeTimeout bounds the WebSocket upgrade.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultMaxMessageSize is the largest inbound frame accepted (4MB;
	// initial state snapshots for large sites are the sizing driver).
	DefaultMaxMessageSize = 4 << 20
)

// WSDialer dials WebSocket connections to the event service.
type WSDialer struct {
	// HandshakeTimeout bounds the upgrade handshake
	// (default: DefaultHandshakeTimeout).
	HandshakeTimeout time.Duration

	// MaxMessageSize limits inbound frames (default: DefaultMaxMessageSize).
	MaxMessageSize int64

	// Header is sent with the upgrade request.
	Header http.Header
}

// Dial connects to the given ws:// or wss:// address. The read loop is
// running when Dial returns; events fire from that goroutine.
func (d *WSDialer) Dial(ctx context.Context, address string, events Events) (Conn, error) {
	handshakeTimeout := d.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	maxSize := d.MaxMessageSize
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	ws, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	ws.SetReadLimit(maxSize)

	conn := &wsConn{
		ws:      ws,
		events:  events,
		closeCh: make(chan struct{}),
	}
	go conn.readLoop()

	return conn, nil
}

// wsConn wraps a gorilla websocket connection.
type wsConn struct {
	ws     *websocket.Conn
	events Events

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}
}

// Send transmits one text frame.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket send failed: %w", err)
	}
	return nil
}

// Close closes the connection. The read loop notices the closed socket
// and fires OnClose.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)

		// Best-effort close frame; the peer may already be gone
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// readLoop delivers inbound frames until the connection ends, then
// fires OnClose exactly once.
func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err == nil {
			if c.events.OnMessage != nil {
				c.events.OnMessage(data)
			}
			continue
		}

		select {
		case <-c.closeCh:
			// Local close
			c.fireClose(CloseNormal, "closed by client")
			return
		default:
		}

		if ce, ok := err.(*websocket.CloseError); ok {
			c.fireClose(ce.Code, ce.Text)
			return
		}

		if c.events.OnError != nil {
			c.events.OnError(err)
		}
		c.fireClose(CloseAbnormal, err.Error())
		return
	}
}

func (c *wsConn) fireClose(code int, reason string) {
	if c.events.OnClose != nil {
		c.events.OnClose(code, reason)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Conn   = (*wsConn)(nil)
	_ Dialer = (*WSDialer)(nil)
)
