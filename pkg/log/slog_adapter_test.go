package log

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	adapter := NewSlogAdapter(logger)

	adapter.Log(StateChange("AUTHENTICATING", "READY"))
	adapter.Log(Message(DirectionIn, "locationUpdate", ""))
	adapter.Log(Error("request failed", errors.New("timeout")))

	out := buf.String()
	if !strings.Contains(out, "new_state=READY") {
		t.Errorf("missing state attrs in output:\n%s", out)
	}
	if !strings.Contains(out, "action=locationUpdate") {
		t.Errorf("missing message attrs in output:\n%s", out)
	}
	if !strings.Contains(out, "error=timeout") {
		t.Errorf("missing error attr in output:\n%s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("error events should log at warn:\n%s", out)
	}
}
