package eventfeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/sheerbytes/pftp/internal/session"
	"github.com/sheerbytes/pftp/pkg/protocol"
)

// DefaultMaxWatchers caps concurrent connections to the status listener.
const DefaultMaxWatchers = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only feed, any origin may watch
	},
}

// SessionLister reports the active sessions.
type SessionLister interface {
	List() []session.Session
}

// NewMux returns the status HTTP handler: /health, /sessions and /ws.
func NewMux(hub *Hub, sessions SessionLister, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, sessions.List())
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWatch(w, r, hub, sessions, logger)
	})
	return mux
}

func handleWatch(w http.ResponseWriter, r *http.Request, hub *Hub, sessions SessionLister, logger *slog.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(env protocol.Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(env)
	}

	snapshot, err := protocol.NewEnvelope(protocol.TypeSessions, sessions.List())
	if err != nil {
		logger.Error("failed to create sessions envelope", "error", err)
		return
	}
	if err := send(snapshot); err != nil {
		return
	}

	remove := hub.Add(uuid.NewString(), send, func() { _ = conn.Close() })
	defer remove()

	// The feed is one-way; reading only detects the watcher going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("watcher read error", "error", err)
			}
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the status server on ln until ctx is cancelled. At most
// maxConns connections are served at once; zero means DefaultMaxWatchers.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, maxConns int) error {
	if maxConns <= 0 {
		maxConns = DefaultMaxWatchers
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(netutil.LimitListener(ln, maxConns))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		// Hijacked websocket connections are not tracked by Shutdown.
		_ = srv.Close()
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
