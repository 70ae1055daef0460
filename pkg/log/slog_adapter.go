package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes client events to an slog.Logger. Useful for
// development when you want to see protocol activity in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given
// slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. State and subscription events
// log at Info, messages at Debug, errors at Warn.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}

	if event.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", event.CorrelationID))
	}
	if event.Action != "" {
		attrs = append(attrs, slog.String("action", event.Action))
	}

	level := slog.LevelInfo
	msg := event.Summary

	switch event.Category {
	case CategoryState:
		attrs = append(attrs,
			slog.String("old_state", event.OldState),
			slog.String("new_state", event.NewState),
		)
		if msg == "" {
			msg = "connection state changed"
		}
	case CategoryMessage:
		level = slog.LevelDebug
		attrs = append(attrs, slog.String("direction", event.Direction.String()))
		if msg == "" {
			msg = "wire message"
		}
	case CategorySubscription:
		if msg == "" {
			msg = "subscription activity"
		}
	case CategoryError:
		level = slog.LevelWarn
		if event.Err != nil {
			attrs = append(attrs, slog.String("error", event.Err.Error()))
		}
		if msg == "" {
			msg = "client error"
		}
	}

	a.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
