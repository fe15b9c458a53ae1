package transport

import (
	"time"

	"github.com/quic-go/quic-go"
)

const (
	defaultInitialConnWindow = 2 * 1024 * 1024
	minQuicConnWindow        = 1 * 1024 * 1024
	maxQuicConnWindow        = 1024 * 1024 * 1024
	minQuicStreamWindow      = 1 * 1024 * 1024
	maxQuicStreamWindow      = 256 * 1024 * 1024

	// A transfer uses exactly one bidirectional stream per connection.
	quicMaxIncomingStreams = 1
	quicKeepAlive          = 10 * time.Second
)

type QuicTuneResult struct {
	ConnWin     int
	StreamWin   int
	IdleTimeout time.Duration
	Status      string
}

// BuildQuicConfig copies base (if any) and applies clamped flow-control
// windows. A zero idleTimeout keeps the base or library default.
func BuildQuicConfig(base *quic.Config, connWin, streamWin int, idleTimeout time.Duration) (*quic.Config, QuicTuneResult) {
	cfg := &quic.Config{}
	if base != nil {
		copyCfg := *base
		cfg = &copyCfg
	}

	conn := clampQuicConnWindow(connWin)
	stream := clampQuicStreamWindow(streamWin)
	if stream > conn {
		stream = conn
	}
	initialConn := defaultInitialConnWindow
	if initialConn > conn {
		initialConn = conn
	}
	cfg.InitialConnectionReceiveWindow = uint64(initialConn)
	cfg.MaxConnectionReceiveWindow = uint64(conn)
	cfg.InitialStreamReceiveWindow = uint64(stream)
	cfg.MaxStreamReceiveWindow = uint64(stream)
	cfg.MaxIncomingStreams = quicMaxIncomingStreams
	if cfg.KeepAlivePeriod == 0 {
		cfg.KeepAlivePeriod = quicKeepAlive
	}
	if idleTimeout > 0 {
		cfg.MaxIdleTimeout = idleTimeout
	}

	return cfg, QuicTuneResult{
		ConnWin:     conn,
		StreamWin:   stream,
		IdleTimeout: cfg.MaxIdleTimeout,
		Status:      StatusOK,
	}
}

func clampQuicConnWindow(n int) int {
	if n < minQuicConnWindow {
		return minQuicConnWindow
	}
	if n > maxQuicConnWindow {
		return maxQuicConnWindow
	}
	return n
}

func clampQuicStreamWindow(n int) int {
	if n < minQuicStreamWindow {
		return minQuicStreamWindow
	}
	if n > maxQuicStreamWindow {
		return maxQuicStreamWindow
	}
	return n
}
