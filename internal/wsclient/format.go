package wsclient

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sheerbytes/pftp/internal/session"
	"github.com/sheerbytes/pftp/pkg/protocol"
)

// FormatEnvelope renders a feed envelope as one or more terminal lines.
func FormatEnvelope(env protocol.Envelope) string {
	switch env.Type {
	case protocol.TypeLog:
		var ev protocol.LogEvent
		if err := env.DecodePayload(&ev); err != nil {
			return fmt.Sprintf("%s invalid log event: %v", env.Time.Format("15:04:05"), err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s %-5s %s", env.Time.Local().Format("15:04:05"), ev.Level, ev.Message)
		keys := make([]string, 0, len(ev.Attrs))
		for k := range ev.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, ev.Attrs[k])
		}
		return b.String()
	case protocol.TypeSessions:
		var list []session.Session
		if err := env.DecodePayload(&list); err != nil {
			return "active sessions: 0"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "active sessions: %d", len(list))
		for _, s := range list {
			fmt.Fprintf(&b, "\n  %s %s %s files=%d bytes=%d", s.ID, s.Remote, s.Transport, s.Files, s.Bytes)
		}
		return b.String()
	case protocol.TypeError:
		var e protocol.Error
		_ = env.DecodePayload(&e)
		return fmt.Sprintf("error %s: %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("%s %s", env.Type, string(env.Payload))
	}
}
