// Package dot prints capture progress without a spinner, for output that is
// not a terminal.
package dot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
)

var (
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func New(h slog.Handler) slog.Handler {
	return NewWithWriter(h, colorable.NewColorableStdout())
}

func NewWithWriter(h slog.Handler, stdout io.Writer) slog.Handler {
	return &dotHandler{
		handler: h,
		stdout:  stdout,
		mu:      &sync.Mutex{},
	}
}

type dotHandler struct {
	handler slog.Handler
	stdout  io.Writer
	mu      *sync.Mutex
}

func (h *dotHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *dotHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case r.Message == "captured tile":
		_, _ = h.stdout.Write([]byte(yellow(".")))
	case r.Message == "captured":
		_, _ = h.stdout.Write([]byte(green("o")))
	case strings.Contains(r.Message, "failed to"):
		_, _ = h.stdout.Write([]byte(red("!")))
	case r.Message == "capture completed":
		_, _ = h.stdout.Write([]byte("\n"))
	}
	return nil
}

func (h *dotHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dotHandler{handler: h.handler.WithAttrs(attrs), stdout: h.stdout, mu: h.mu}
}

func (h *dotHandler) WithGroup(name string) slog.Handler {
	return &dotHandler{handler: h.handler.WithGroup(name), stdout: h.stdout, mu: h.mu}
}
