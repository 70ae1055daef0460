package log

// MultiLogger fans out events to multiple loggers in order. A nil entry
// is skipped. MultiLogger itself holds no state and is safe for
// concurrent use when its targets are.
type MultiLogger struct {
	targets []Logger
}

// NewMultiLogger creates a logger that forwards each event to every
// target in the order given.
func NewMultiLogger(targets ...Logger) *MultiLogger {
	return &MultiLogger{targets: targets}
}

// Log forwards the event to all targets.
func (m *MultiLogger) Log(event Event) {
	for _, t := range m.targets {
		if t != nil {
			t.Log(event)
		}
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
