// Package connection provides connection lifecycle management for the
// cloud service.
//
// This package handles:
//   - Dialing and the authentication handshake
//   - Connection state tracking
//   - Automatic reconnection on connection loss, with additive backoff
//   - Access token renewal on the live connection
//
// # Lifecycle
//
// Connect moves the manager through Connecting and Authenticating to
// Ready, at which point the connection is attached to the message
// router and requests flow. An unexpected closure detaches the router
// (failing every pending request) and, when auto-reconnect is enabled,
// enters Reconnecting.
//
// # Handshake
//
// The first outbound frame on a fresh transport is the raw access
// token. The service answers with exactly one message; a recognized
// success marker carrying the token timestamps completes the
// handshake, anything else fails the attempt with a HandshakeError
// carrying the closure code and reason when available.
//
// # Reconnection Strategy
//
// When a connection is lost, retry delays grow additively:
//
//  1. Start at the configured minimum delay
//  2. After each failure add the configured increase
//  3. Cap at the configured maximum
//  4. Reset to the minimum on successful connection
//
// Every Ready that follows a previous Ready fires the reconnect hook,
// which the client uses to replay subscriptions.
package connection
