package logging

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// New creates a new structured logger with text output on stdout.
// app: application name (e.g., "pftpserv")
// level: one of "debug", "info", "warn", "error" (default: "info")
// sinks receive every record as well; the app and pid attributes are only
// attached to the stdout handler.
func New(app string, level string, sinks ...slog.Handler) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	})
	if len(sinks) > 0 {
		handler = Fanout(append([]slog.Handler{handler}, sinks...)...)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

type fanout []slog.Handler

// Fanout returns a handler that forwards each record to every handler that
// is enabled for its level.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return fanout(handlers)
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
