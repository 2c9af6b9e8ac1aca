package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// colorHandler renders a one-line, ANSI-colored form of each record for a
// human watching an attached terminal. It never replaces the JSON file
// sink; it's an additional stream wired in alongside it when stderr is a
// TTY, so the JSON log stays the single source of truth and the colored
// stream is purely cosmetic.
type colorHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
}

func newColorHandler(w io.Writer, level slog.Leveler) *colorHandler {
	return &colorHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	color, label := levelStyle(r.Level)
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.w, "%s%-5s\x1b[0m %s", color, label, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		v := a.Value.String()
		if shouldRedactKey(a.Key) {
			v = "[REDACTED]"
		} else if redacted, ok := redactStringValue(v); ok {
			v = redacted
		}
		fmt.Fprintf(h.w, " \x1b[2m%s=\x1b[0m%s", a.Key, v)
		return true
	})
	fmt.Fprintln(h.w)
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &prefixedColorHandler{colorHandler: h, attrs: attrs}
}

func (h *colorHandler) WithGroup(_ string) slog.Handler {
	return h
}

// prefixedColorHandler carries the attrs bound via With() so they're
// printed on every subsequent record, the way slog's built-in handlers do.
type prefixedColorHandler struct {
	*colorHandler
	attrs []slog.Attr
}

func (h *prefixedColorHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.attrs...)
	return h.colorHandler.Handle(ctx, r)
}

func levelStyle(level slog.Level) (color, label string) {
	switch {
	case level >= slog.LevelError:
		return "\x1b[31m", "ERROR"
	case level >= slog.LevelWarn:
		return "\x1b[33m", "WARN"
	case level >= slog.LevelInfo:
		return "\x1b[36m", "INFO"
	default:
		return "\x1b[90m", "DEBUG"
	}
}
