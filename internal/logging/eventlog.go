package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultEventLogPath is the event log file, relative to the working directory.
const DefaultEventLogPath = "server.log"

// EventLog is the append-only, line-oriented server event log. Every line is
// "[<timestamp>] <message>" followed by the record's attributes as key=value.
// All writers are serialized on a single mutex.
type EventLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	closed bool
	level  slog.Leveler
	now    func() time.Time
}

// OpenEventLog opens (or creates) path for appending.
func OpenEventLog(path string, level slog.Leveler) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	l := NewEventLog(f, level)
	l.closer = f
	return l, nil
}

// NewEventLog writes events to w. A nil level records info and above.
func NewEventLog(w io.Writer, level slog.Leveler) *EventLog {
	if level == nil {
		level = slog.LevelInfo
	}
	return &EventLog{w: w, level: level, now: time.Now}
}

// Append writes one event line.
func (l *EventLog) Append(message string) error {
	return l.write(l.now(), message)
}

func (l *EventLog) write(at time.Time, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return os.ErrClosed
	}
	_, err := fmt.Fprintf(l.w, "[%s] %s\n", at.Format(time.ANSIC), line)
	return err
}

// Close flushes nothing and closes the underlying file. Later appends fail
// with os.ErrClosed.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Handler exposes the log as a slog sink.
func (l *EventLog) Handler() slog.Handler {
	return &eventHandler{log: l}
}

type eventHandler struct {
	log    *EventLog
	attrs  []slog.Attr
	prefix string
}

func (h *eventHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.log.level.Level()
}

func (h *eventHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		appendAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	at := r.Time
	if at.IsZero() {
		at = h.log.now()
	}
	return h.log.write(at, b.String())
}

func (h *eventHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &eventHandler{log: h.log, prefix: h.prefix}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (h *eventHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &eventHandler{log: h.log, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	val := a.Value.String()
	if strings.ContainsAny(val, " \t\n\"=") || val == "" {
		val = strconv.Quote(val)
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(val)
}
