package protocol

// Port is the well-known TCP (and optional QUIC/UDP) port of the file service.
const Port = 9527

// Event type constants for status feed envelopes.
const (
	TypeLog      = "log"
	TypeSessions = "sessions"
	TypeError    = "error"
)

// Error represents an error message in the status feed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LogEvent mirrors one server log record.
type LogEvent struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}
