package dot

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/fatih/color"
)

func TestHandle(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	h, err := NewWithWriter(slog.NewTextHandler(io.Discard, nil), &buf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Stop)
	logger := slog.New(h).With(slog.String("target", "window fully"))
	logger.Info("captured tile", slog.Int("tile", 0))
	logger.Info("skipped tile with nothing to paste", slog.Int("tile", 1))
	logger.Info("frame element went stale, resolving again")
	logger.Error("failed to capture")
	logger.Info("captured")
	logger.Info("capture completed")
	if got, want := buf.String(), ".-*!o\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
