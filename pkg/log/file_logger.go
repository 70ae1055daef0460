package log

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileLogger appends events to a file as JSON lines. Intended for
// capturing a session for offline inspection; not a high-volume sink.
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileLogger opens (or creates) the given file for appending.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{file: f, enc: json.NewEncoder(f)}, nil
}

// Log appends the event as one JSON line. Encoding errors are dropped;
// a logging failure must never disturb the client.
func (l *FileLogger) Log(event Event) {
	type line struct {
		Event
		Error string `json:"error,omitempty"`
	}
	out := line{Event: event}
	if event.Err != nil {
		out.Error = event.Err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	_ = l.enc.Encode(out)
}

// Close closes the underlying file. Subsequent events are dropped.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.enc = nil
	return err
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
