package progress

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sheerbytes/pftp/internal/transport"
)

const updateInterval = 250 * time.Millisecond

// Printer renders per-file send progress as a single rewritten line.
type Printer struct {
	w        io.Writer
	meter    *Meter
	name     string
	total    int64
	last     int64
	now      func() time.Time
	started  bool
	interval time.Duration
}

// NewPrinter writes progress lines to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, meter: NewMeter(), now: time.Now, interval: updateInterval}
}

// Update is shaped to be passed as a transfer progress callback.
// A new name starts a new file; sent==total finishes it.
func (p *Printer) Update(name string, sent, total int64) {
	if !p.started || name != p.name {
		p.begin(name, total)
	}
	p.meter.Set(sent)
	if sent >= total {
		p.render()
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, "File sent successfully")
		p.started = false
		return
	}
	if shouldUpdate(&p.last, p.now(), p.interval) {
		p.render()
	}
}

// Abort ends the current line after a failed file.
func (p *Printer) Abort(err error) {
	if p.started {
		fmt.Fprintln(p.w)
		p.started = false
	}
	fmt.Fprintf(p.w, "Send failed: %v\n", err)
}

func (p *Printer) begin(name string, total int64) {
	if p.started {
		fmt.Fprintln(p.w)
	}
	p.name = name
	p.total = total
	p.started = true
	atomic.StoreInt64(&p.last, 0)
	p.meter.Start(total)
	fmt.Fprintf(p.w, "Sending file: %s (size: %d bytes)\n", name, total)
}

func (p *Printer) render() {
	stats := p.meter.Snapshot()
	fmt.Fprintf(p.w, "\rProgress: %.2f%% %s", stats.Percent, transport.FormatRate(stats.RateBps))
}

func shouldUpdate(last *int64, now time.Time, interval time.Duration) bool {
	ts := now.UnixNano()
	prev := atomic.LoadInt64(last)
	if ts-prev < int64(interval) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, ts)
}
