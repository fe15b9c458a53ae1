package bench

import (
	"fmt"
	"time"
)

const peakWindow = time.Second

// Bench measures throughput across a whole run of sequential files.
type Bench struct {
	start      time.Time
	done       int64 // bytes of files already finished
	current    string
	sent       int64 // bytes of the current file
	files      int
	windowAt   time.Time
	windowBase int64
	peak       float64
	ttfbMs     int64
	gotTTFB    bool
	now        func() time.Time
}

// Summary is the final result of a run.
type Summary struct {
	Files    int
	Bytes    int64
	Elapsed  time.Duration
	AvgMBps  float64
	PeakMBps float64
	TTFBMs   int64
	GotTTFB  bool
}

func NewBench() *Bench {
	return &Bench{now: time.Now}
}

// Observe has the shape of a transfer progress callback. sent is the running
// count for name; a new name finishes the previous file.
func (b *Bench) Observe(name string, sent, total int64) {
	b.tick(b.now(), name, sent)
}

func (b *Bench) tick(now time.Time, name string, sent int64) {
	if b.start.IsZero() {
		b.start = now
		b.windowAt = now
	}
	if name != b.current {
		if b.current != "" {
			b.done += b.sent
		}
		b.current = name
		b.sent = 0
		b.files++
	}
	if sent > b.sent {
		b.sent = sent
	}
	bytesNow := b.done + b.sent
	if !b.gotTTFB && bytesNow > 0 {
		b.gotTTFB = true
		b.ttfbMs = now.Sub(b.start).Milliseconds()
	}
	if dt := now.Sub(b.windowAt); dt >= peakWindow {
		rate := mbps(bytesNow-b.windowBase, dt)
		if rate > b.peak {
			b.peak = rate
		}
		b.windowAt = now
		b.windowBase = bytesNow
	}
}

// Final closes the run at the current time.
func (b *Bench) Final() Summary {
	return b.final(b.now())
}

func (b *Bench) final(now time.Time) Summary {
	bytes := b.done + b.sent
	var elapsed time.Duration
	if !b.start.IsZero() {
		elapsed = now.Sub(b.start)
	}
	avg := mbps(bytes, elapsed)
	peak := b.peak
	// Runs shorter than one window never closed a window.
	if avg > peak {
		peak = avg
	}
	return Summary{
		Files:    b.files,
		Bytes:    bytes,
		Elapsed:  elapsed,
		AvgMBps:  avg,
		PeakMBps: peak,
		TTFBMs:   b.ttfbMs,
		GotTTFB:  b.gotTTFB,
	}
}

// Line renders s for the terminal.
func Line(label string, s Summary, carrier string) string {
	ttfb := "--"
	if s.GotTTFB {
		ttfb = fmt.Sprintf("%dms", s.TTFBMs)
	}
	return fmt.Sprintf("BENCH %s: files=%d bytes=%.2fMiB dur=%.1fs avg=%.0fMB/s peak1s=%.0fMB/s ttfb=%s transport=%s",
		label,
		s.Files,
		float64(s.Bytes)/(1024*1024),
		s.Elapsed.Seconds(),
		s.AvgMBps,
		s.PeakMBps,
		ttfb,
		carrier,
	)
}

func mbps(n int64, d time.Duration) float64 {
	if d <= 0 || n <= 0 {
		return 0
	}
	return float64(n) / d.Seconds() / (1024 * 1024)
}
