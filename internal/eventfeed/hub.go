package eventfeed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sheerbytes/pftp/pkg/protocol"
)

// subscriberBuffer is the number of envelopes queued per watcher before
// further events are dropped for it.
const subscriberBuffer = 256

type subscriber struct {
	send    chan protocol.Envelope
	done    chan struct{}
	closeFn func()
}

// Hub fans server events out to connected watchers. Delivery is best effort:
// a watcher whose queue is full misses events instead of stalling the server.
type Hub struct {
	mu    sync.RWMutex
	subs  map[string]*subscriber
	level slog.Leveler
}

// NewHub creates a hub that publishes log records at or above level.
func NewHub(level slog.Leveler) *Hub {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Hub{
		subs:  make(map[string]*subscriber),
		level: level,
	}
}

// Add registers a watcher. send is called from a dedicated goroutine, one
// envelope at a time; when it fails the watcher stops receiving. closeFn,
// if non-nil, is called by CloseAll. The returned function unregisters the
// watcher and waits briefly for its writer to exit.
func (h *Hub) Add(id string, send func(env protocol.Envelope) error, closeFn func()) (remove func()) {
	sub := &subscriber{
		send:    make(chan protocol.Envelope, subscriberBuffer),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
	go func() {
		defer close(sub.done)
		for env := range sub.send {
			if err := send(env); err != nil {
				return
			}
		}
	}()

	h.mu.Lock()
	if old, ok := h.subs[id]; ok {
		close(old.send)
	}
	h.subs[id] = sub
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		if h.subs[id] != sub {
			h.mu.Unlock()
			return
		}
		delete(h.subs, id)
		h.mu.Unlock()

		close(sub.send)
		select {
		case <-sub.done:
		case <-time.After(time.Second):
		}
	}
}

// Count returns the number of watchers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// CloseAll calls the close function of every watcher.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	fns := make([]func(), 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.closeFn != nil {
			fns = append(fns, sub.closeFn)
		}
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Broadcast queues env for every watcher without blocking.
func (h *Hub) Broadcast(env protocol.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.send <- env:
		default:
		}
	}
}

// Handler returns an slog.Handler that publishes every record as a log event.
func (h *Hub) Handler() slog.Handler {
	return &feedHandler{hub: h}
}

type feedHandler struct {
	hub    *Hub
	attrs  []slog.Attr
	prefix string
}

func (f *feedHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= f.hub.level.Level()
}

func (f *feedHandler) Handle(_ context.Context, r slog.Record) error {
	if f.hub.Count() == 0 {
		return nil
	}
	ev := protocol.LogEvent{
		Time:    r.Time.UTC().Format(time.RFC3339Nano),
		Level:   r.Level.String(),
		Message: r.Message,
	}
	if len(f.attrs) > 0 || r.NumAttrs() > 0 {
		ev.Attrs = make(map[string]any, len(f.attrs)+r.NumAttrs())
		for _, a := range f.attrs {
			addAttr(ev.Attrs, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(ev.Attrs, f.prefix, a)
			return true
		})
	}
	env, err := protocol.NewEnvelope(protocol.TypeLog, ev)
	if err != nil {
		return err
	}
	f.hub.Broadcast(env)
	return nil
}

func (f *feedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &feedHandler{hub: f.hub, prefix: f.prefix}
	next.attrs = append(next.attrs, f.attrs...)
	for _, a := range attrs {
		if f.prefix != "" {
			a.Key = f.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (f *feedHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return &feedHandler{hub: f.hub, attrs: f.attrs, prefix: f.prefix + name + "."}
}

func addAttr(m map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(m, prefix+a.Key+".", ga)
		}
		return
	}
	switch v.Kind() {
	case slog.KindString:
		m[prefix+a.Key] = v.String()
	case slog.KindDuration:
		m[prefix+a.Key] = v.Duration().String()
	case slog.KindTime:
		m[prefix+a.Key] = v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			m[prefix+a.Key] = err.Error()
			return
		}
		m[prefix+a.Key] = v.Any()
	default:
		m[prefix+a.Key] = v.Any()
	}
}
