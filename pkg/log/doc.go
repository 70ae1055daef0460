// Package log provides client event logging.
//
// The client emits structured events for connection state changes, wire
// messages, subscription activity and errors. Applications choose what
// happens to them by supplying a Logger implementation:
//
//   - NoopLogger discards everything (the default).
//   - SlogAdapter forwards events to a log/slog logger.
//   - FileLogger appends events as JSON lines for offline inspection.
//   - MultiLogger fans out to several of the above.
//
// Implementations must be safe for concurrent use; events are emitted
// from the transport read goroutine and from timer goroutines.
package log
