package transport

import (
	"testing"
	"time"

	"github.com/quic-go/quic-go"
)

func TestBuildQuicConfigClampsAndCopies(t *testing.T) {
	base := &quic.Config{
		KeepAlivePeriod: 30 * time.Second,
	}
	cfg, res := BuildQuicConfig(base, maxQuicConnWindow+1, maxQuicStreamWindow+1, 0)
	if res.ConnWin != maxQuicConnWindow {
		t.Fatalf("expected conn window clamp, got %d", res.ConnWin)
	}
	if res.StreamWin != maxQuicStreamWindow {
		t.Fatalf("expected stream window clamp, got %d", res.StreamWin)
	}
	if cfg.InitialConnectionReceiveWindow != uint64(defaultInitialConnWindow) {
		t.Fatalf("unexpected initial conn window %d", cfg.InitialConnectionReceiveWindow)
	}
	if cfg.MaxConnectionReceiveWindow != uint64(maxQuicConnWindow) {
		t.Fatalf("unexpected max conn window in config")
	}
	if cfg.MaxStreamReceiveWindow != uint64(maxQuicStreamWindow) {
		t.Fatalf("unexpected stream window in config")
	}
	if cfg.MaxIncomingStreams != quicMaxIncomingStreams {
		t.Fatalf("unexpected max streams in config")
	}
	if cfg.KeepAlivePeriod != base.KeepAlivePeriod {
		t.Fatalf("expected keepalive preserved from base")
	}
	if base.InitialConnectionReceiveWindow != 0 {
		t.Fatalf("expected base config untouched")
	}
}

func TestBuildQuicConfigSmallWindows(t *testing.T) {
	cfg, res := BuildQuicConfig(nil, 0, 0, 15*time.Second)
	if res.ConnWin != minQuicConnWindow || res.StreamWin != minQuicStreamWindow {
		t.Fatalf("expected min clamps, got conn=%d stream=%d", res.ConnWin, res.StreamWin)
	}
	if cfg.InitialConnectionReceiveWindow != uint64(minQuicConnWindow) {
		t.Fatalf("initial conn window should not exceed max, got %d", cfg.InitialConnectionReceiveWindow)
	}
	if cfg.MaxIdleTimeout != 15*time.Second || res.IdleTimeout != 15*time.Second {
		t.Fatalf("expected idle timeout applied, got %s", cfg.MaxIdleTimeout)
	}
	if cfg.KeepAlivePeriod != quicKeepAlive {
		t.Fatalf("expected default keepalive, got %s", cfg.KeepAlivePeriod)
	}
}

func TestBuildQuicConfigStreamBoundedByConn(t *testing.T) {
	_, res := BuildQuicConfig(nil, 4*1024*1024, 64*1024*1024, 0)
	if res.StreamWin != 4*1024*1024 {
		t.Fatalf("expected stream window bounded by conn window, got %d", res.StreamWin)
	}
}
