package helpers

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestWatermillAdapterLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	w := NewWatermill(logger)

	w.Info("router started", watermill.LogFields{"topic": "chat"})
	w.Trace("dropped", nil)
	w.With(watermill.LogFields{"handler": "printer"}).Error("failed", errors.New("boom"), nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"level":"debug"`) || !strings.Contains(lines[0], `"topic":"chat"`) {
		t.Fatalf("unexpected info line %s", lines[0])
	}
	if !strings.Contains(lines[1], `"handler":"printer"`) || !strings.Contains(lines[1], `"error":"boom"`) {
		t.Fatalf("unexpected error line %s", lines[1])
	}
	if !strings.Contains(lines[1], `"component":"watermill"`) {
		t.Fatalf("missing component field in %s", lines[1])
	}
}
