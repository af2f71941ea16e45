// Package log configures the process-wide slog logger shared by the
// NetPad binaries.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. Format is "json" or "text"; anything
// else falls back to text.
func Setup(logLevel string, format ...string) {
	SetupWriter(os.Stderr, logLevel, format...)
}

func SetupWriter(w io.Writer, logLevel string, format ...string) {
	options := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	var handler slog.Handler = slog.NewTextHandler(w, options)
	if len(format) > 0 && strings.EqualFold(format[0], "json") {
		handler = slog.NewJSONHandler(w, options)
	}

	slog.SetDefault(slog.New(handler))
}

func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule returns a logger tagged with module. It resolves the default
// handler on every record, so loggers created before Setup still honour
// the configured level and format.
func WithModule(module string) *slog.Logger {
	return slog.New(&deferredHandler{}).With("module", module)
}

// deferredHandler replays WithAttrs and WithGroup calls, in order, onto
// whatever handler is the default when a record is handled.
type deferredHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h *deferredHandler) resolve() slog.Handler {
	handler := slog.Default().Handler()
	for _, op := range h.ops {
		handler = op(handler)
	}

	return handler
}

func (h *deferredHandler) with(op func(slog.Handler) slog.Handler) *deferredHandler {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(h.ops)+1)
	ops = append(ops, h.ops...)

	return &deferredHandler{ops: append(ops, op)}
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	return h.with(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	return h.with(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}
