package session

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session describes one live client connection.
type Session struct {
	ID        string    `json:"session_id"`
	Remote    string    `json:"remote"`
	Peer      string    `json:"peer"`
	Transport string    `json:"transport"`
	StartedAt time.Time `json:"started_at"`
	Files     int       `json:"files"`
	Bytes     int64     `json:"bytes"`
}

type entry struct {
	info   Session
	closer io.Closer
}

// Registry is a thread-safe set of active sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry // keyed by session ID
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// Add registers a new session and returns it with a fresh ID.
// closer is closed by CloseAll and may be nil.
func (r *Registry) Add(remote, peer, transport string, closer io.Closer) Session {
	s := Session{
		ID:        uuid.NewString(),
		Remote:    remote,
		Peer:      peer,
		Transport: transport,
		StartedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = &entry{info: s, closer: closer}
	return s
}

// Update records the session's running totals. Unknown IDs are ignored.
func (r *Registry) Update(id string, files int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.info.Files = files
		e.info.Bytes = bytes
	}
}

// Remove drops a session and returns its final state.
func (r *Registry) Remove(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	return e.info, true
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return e.info, true
}

// List returns a snapshot of all sessions, oldest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every registered connection and returns how many were
// closed. Sessions stay registered until their owners call Remove.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	closers := make([]io.Closer, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.closer != nil {
			closers = append(closers, e.closer)
		}
	}
	r.mu.RUnlock()

	for _, c := range closers {
		_ = c.Close()
	}
	return len(closers)
}
