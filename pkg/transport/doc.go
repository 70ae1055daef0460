// Package transport provides the duplex, message-framed socket the
// client runs over.
//
// The connection layer depends only on the minimal Conn/Dialer contract:
// a dialer that produces a connection delivering whole-message frames
// through event callbacks, and a Send operation. The default
// implementation is a WebSocket client; tests substitute in-memory
// fakes.
//
// Event callbacks are invoked from the connection's read goroutine, one
// at a time. OnClose is delivered exactly once per connection, whether
// the closure was remote, a read error, or a local Close call.
package transport
