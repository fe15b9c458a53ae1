package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPrinterSingleFile(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Update("a.bin", 0, 100)
	p.Update("a.bin", 100, 100)

	out := buf.String()
	if !strings.HasPrefix(out, "Sending file: a.bin (size: 100 bytes)\n") {
		t.Fatalf("missing header line: %q", out)
	}
	if !strings.Contains(out, "\rProgress: 100.00%") {
		t.Fatalf("missing final progress: %q", out)
	}
	if !strings.HasSuffix(out, "\nFile sent successfully\n") {
		t.Fatalf("expected completion line: %q", out)
	}
}

func TestPrinterThrottles(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Update("big", 10, 1000)
	p.Update("big", 20, 1000)
	p.Update("big", 30, 1000)
	if got := strings.Count(buf.String(), "\rProgress"); got != 1 {
		t.Fatalf("expected 1 throttled render, got %d", got)
	}

	now = now.Add(time.Second)
	p.Update("big", 40, 1000)
	if got := strings.Count(buf.String(), "\rProgress"); got != 2 {
		t.Fatalf("expected 2 renders after interval, got %d", got)
	}
}

func TestPrinterEmptyFile(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Update("empty", 0, 0)
	if !strings.Contains(buf.String(), "Progress: 100.00%") {
		t.Fatalf("expected empty file at 100%%: %q", buf.String())
	}
}

func TestPrinterAbort(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Update("x", 5, 10)
	p.Abort(errors.New("broken pipe"))
	if !strings.HasSuffix(buf.String(), "\nSend failed: broken pipe\n") {
		t.Fatalf("unexpected abort output: %q", buf.String())
	}
}

func TestShouldUpdate(t *testing.T) {
	var last int64
	now := time.Unix(100, 0)
	if !shouldUpdate(&last, now, time.Second) {
		t.Fatal("first update should pass")
	}
	if shouldUpdate(&last, now.Add(500*time.Millisecond), time.Second) {
		t.Fatal("update within interval should be throttled")
	}
	if !shouldUpdate(&last, now.Add(time.Second), time.Second) {
		t.Fatal("update after interval should pass")
	}
}
