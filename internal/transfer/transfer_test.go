package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sheerbytes/pftp/pkg/protocol"
)

const testPeer = "127.0.0.1"

type streamPair func(t *testing.T) (client, server Stream)

func tcpPair(t *testing.T) (Stream, Stream) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client.(*net.TCPConn), server.(*net.TCPConn)
}

func pipePair(t *testing.T) (Stream, Stream) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

var pairs = map[string]streamPair{
	"tcp":  tcpPair,
	"pipe": pipePair,
}

type serveResult struct {
	stats SessionStats
	err   error
}

func startReceiver(root string, s Stream, cfg ReceiverConfig) <-chan serveResult {
	cfg.Root = root
	r := NewReceiver(cfg)
	done := make(chan serveResult, 1)
	go func() {
		stats, err := r.Serve(context.Background(), s, testPeer, nil)
		done <- serveResult{stats: stats, err: err}
	}()
	return done
}

func waitResult(t *testing.T, done <-chan serveResult) serveResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("receiver did not finish")
		return serveResult{}
	}
}

func writeRandomFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return data
}

// stored returns where the receiver puts a file sent under name.
func stored(root, name string) string {
	return filepath.Join(root, testPeer, strings.TrimPrefix(name, "/"))
}

func TestSendFileRoundTrip(t *testing.T) {
	for transport, pair := range pairs {
		for _, size := range []int{0, 1, 5000, 3 << 20} {
			t.Run(fmt.Sprintf("%s/%d", transport, size), func(t *testing.T) {
				src := filepath.Join(t.TempDir(), "data.bin")
				root := t.TempDir()
				want := writeRandomFile(t, src, size)

				client, server := pair(t)
				done := startReceiver(root, server, ReceiverConfig{ChunkSize: 4096})

				var last int64 = -1
				sender := NewSender(client, nil, func(name string, sent, total int64) {
					if sent < last {
						t.Errorf("progress went backwards: %d after %d", sent, last)
					}
					last = sent
				})
				if err := sender.SendFile(context.Background(), src); err != nil {
					t.Fatalf("SendFile: %v", err)
				}
				client.Close()

				res := waitResult(t, done)
				if res.err != nil {
					t.Fatalf("Serve: %v", res.err)
				}
				if res.stats.Files != 1 || res.stats.Bytes != int64(size) {
					t.Fatalf("stats = %+v, want 1 file of %d bytes", res.stats, size)
				}
				got, err := os.ReadFile(stored(root, src))
				if err != nil {
					t.Fatalf("read stored file: %v", err)
				}
				if !bytes.Equal(got, want) {
					t.Fatalf("stored content differs: got %d bytes, want %d", len(got), len(want))
				}
				if last != int64(size) {
					t.Fatalf("final progress = %d, want %d", last, size)
				}
			})
		}
	}
}

func TestSendDirectoryOmitsSymlinks(t *testing.T) {
	for transport, pair := range pairs {
		t.Run(transport, func(t *testing.T) {
			src := t.TempDir()
			root := t.TempDir()
			regular := writeRandomFile(t, filepath.Join(src, "real.txt"), 128)
			nested := writeRandomFile(t, filepath.Join(src, "a", "b", "c.txt"), 5000)
			if err := os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")); err != nil {
				t.Fatalf("symlink: %v", err)
			}
			if err := os.Symlink(filepath.Join(src, "a"), filepath.Join(src, "linkdir")); err != nil {
				t.Fatalf("symlink: %v", err)
			}

			client, server := pair(t)
			done := startReceiver(root, server, ReceiverConfig{})

			sum, err := NewSender(client, nil, nil).SendDirectory(context.Background(), src)
			if err != nil {
				t.Fatalf("SendDirectory: %v", err)
			}
			client.Close()
			res := waitResult(t, done)
			if res.err != nil {
				t.Fatalf("Serve: %v", res.err)
			}

			if sum.Files != 2 || sum.Skipped != 2 || sum.Bytes != 128+5000 {
				t.Fatalf("summary = %+v", sum)
			}
			if res.stats.Files != 2 {
				t.Fatalf("receiver stored %d files, want 2", res.stats.Files)
			}
			got, err := os.ReadFile(stored(root, src+"/real.txt"))
			if err != nil || !bytes.Equal(got, regular) {
				t.Fatalf("real.txt mismatch: %v", err)
			}
			got, err = os.ReadFile(stored(root, src+"/a/b/c.txt"))
			if err != nil || !bytes.Equal(got, nested) {
				t.Fatalf("a/b/c.txt mismatch: %v", err)
			}
			if _, err := os.Lstat(stored(root, src+"/link.txt")); !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("symlink should not be stored, got err=%v", err)
			}
			if _, err := os.Lstat(stored(root, src+"/linkdir")); !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("symlinked directory should not be stored, got err=%v", err)
			}
		})
	}
}

func TestSendDirectoryStatFailureSkipsEntryOnly(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	writeRandomFile(t, filepath.Join(src, "bad.txt"), 10)
	good := writeRandomFile(t, filepath.Join(src, "good.txt"), 10)

	client, server := tcpPair(t)
	done := startReceiver(root, server, ReceiverConfig{})

	sender := NewSender(client, nil, nil)
	sender.lstat = func(name string) (fs.FileInfo, error) {
		if strings.HasSuffix(name, "/bad.txt") {
			return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrPermission}
		}
		return os.Lstat(name)
	}
	sum, err := sender.SendDirectory(context.Background(), src)
	if err != nil {
		t.Fatalf("SendDirectory: %v", err)
	}
	client.Close()
	waitResult(t, done)

	if sum.Files != 1 || sum.Skipped != 1 {
		t.Fatalf("summary = %+v, want 1 file and 1 skipped", sum)
	}
	got, err := os.ReadFile(stored(root, src+"/good.txt"))
	if err != nil || !bytes.Equal(got, good) {
		t.Fatalf("good.txt mismatch: %v", err)
	}
	if _, err := os.Stat(stored(root, src+"/bad.txt")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("bad.txt should not be stored, got err=%v", err)
	}
}

func TestSendDirectoryMissingRoot(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewSender(&buf, nil, nil).SendDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrPath) {
		t.Fatalf("expected ErrPath, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written, got %d bytes", buf.Len())
	}
}

func TestSendFileMissingWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	err := NewSender(&buf, nil, nil).SendFile(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrPath) {
		t.Fatalf("expected ErrPath, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written, got %d bytes", buf.Len())
	}
}

func TestSendFileWireFormat(t *testing.T) {
	src := filepath.Join(t.TempDir(), "x.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := NewSender(&buf, nil, nil).SendFile(context.Background(), src); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if buf.Len() != protocol.HeaderSize+5 {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), protocol.HeaderSize+5)
	}
	h, err := protocol.ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Filename != src || h.Filesize != 5 || h.Flag != protocol.FlagStart {
		t.Fatalf("header = %+v", h)
	}
	if buf.String() != "hello" {
		t.Fatalf("payload = %q", buf.String())
	}
}

// writeRecord writes a header followed by payload.
func writeRecord(t *testing.T, w io.Writer, name string, size int64, payload []byte) {
	t.Helper()
	if err := protocol.WriteHeader(w, protocol.FileHeader{Filename: name, Filesize: size, Flag: protocol.FlagStart}); err != nil {
		t.Errorf("WriteHeader: %v", err)
		return
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			t.Errorf("write payload: %v", err)
		}
	}
}

func TestReceiverStripsLeadingSlash(t *testing.T) {
	root := t.TempDir()
	client, server := pipePair(t)
	done := startReceiver(root, server, ReceiverConfig{})

	go func() {
		writeRecord(t, client, "/etc/passwd", 4, []byte("root"))
		client.Close()
	}()
	res := waitResult(t, done)
	if res.err != nil {
		t.Fatalf("Serve: %v", res.err)
	}
	got, err := os.ReadFile(filepath.Join(root, testPeer, "etc", "passwd"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "root" {
		t.Fatalf("content = %q", got)
	}
}

func TestReceiverRejectsEscape(t *testing.T) {
	for _, name := range []string{"../escape", "a/../../escape", "//etc/passwd", "/"} {
		t.Run(name, func(t *testing.T) {
			base := t.TempDir()
			root := filepath.Join(base, "store")
			client, server := pipePair(t)
			done := startReceiver(root, server, ReceiverConfig{})

			go func() {
				writeRecord(t, client, name, 3, nil)
			}()
			res := waitResult(t, done)
			if !errors.Is(res.err, ErrPath) {
				t.Fatalf("expected ErrPath, got %v", res.err)
			}
			if _, err := os.Stat(filepath.Join(base, "escape")); !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("file written outside root: %v", err)
			}
			if _, err := os.Stat(filepath.Join(root, "escape")); !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("file written outside peer dir: %v", err)
			}
		})
	}
}

func TestReceiverSequentialFilesAndSecondBurst(t *testing.T) {
	root := t.TempDir()
	client, server := tcpPair(t)
	done := startReceiver(root, server, ReceiverConfig{})

	writeRecord(t, client, "one.txt", 3, []byte("one"))
	writeRecord(t, client, "two.txt", 3, []byte("two"))
	time.Sleep(100 * time.Millisecond)
	writeRecord(t, client, "three.txt", 5, []byte("three"))
	client.Close()

	res := waitResult(t, done)
	if res.err != nil {
		t.Fatalf("Serve: %v", res.err)
	}
	if res.stats.Files != 3 || res.stats.Bytes != 11 {
		t.Fatalf("stats = %+v", res.stats)
	}
	for name, want := range map[string]string{"one.txt": "one", "two.txt": "two", "three.txt": "three"} {
		got, err := os.ReadFile(filepath.Join(root, testPeer, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestReceiverTruncatedPayload(t *testing.T) {
	const size, cut = 100, 40
	for transport, pair := range pairs {
		t.Run(transport, func(t *testing.T) {
			root := t.TempDir()
			client, server := pair(t)
			done := startReceiver(root, server, ReceiverConfig{ChunkSize: 16})

			go func() {
				writeRecord(t, client, "partial.bin", size, bytes.Repeat([]byte{'x'}, cut))
				client.Close()
			}()
			res := waitResult(t, done)
			if !errors.Is(res.err, ErrTransfer) {
				t.Fatalf("expected ErrTransfer, got %v", res.err)
			}
			info, err := os.Stat(filepath.Join(root, testPeer, "partial.bin"))
			if err != nil {
				t.Fatalf("partial file missing: %v", err)
			}
			if info.Size() != cut {
				t.Fatalf("partial size = %d, want %d", info.Size(), cut)
			}
		})
	}
}

// failingStream yields data then fails with err, then yields more data that
// must never be consumed.
type failingStream struct {
	r    io.Reader
	err  error
	tail *bytes.Reader
}

func (s *failingStream) Read(p []byte) (int, error) {
	if s.r != nil {
		n, err := s.r.Read(p)
		if errors.Is(err, io.EOF) {
			s.r = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	if s.err != nil {
		err := s.err
		s.err = nil
		return 0, err
	}
	return s.tail.Read(p)
}

func (s *failingStream) Write(p []byte) (int, error) { return len(p), nil }
func (s *failingStream) Close() error                { return nil }

func TestReceiverStopsAfterTransferError(t *testing.T) {
	root := t.TempDir()
	var head, tail bytes.Buffer
	writeRecord(t, &head, "first.bin", 10, []byte("abcd"))
	writeRecord(t, &tail, "second.bin", 2, []byte("ok"))
	s := &failingStream{r: &head, err: errors.New("connection reset"), tail: bytes.NewReader(tail.Bytes())}

	r := NewReceiver(ReceiverConfig{Root: root})
	stats, err := r.Serve(context.Background(), s, testPeer, nil)
	if !errors.Is(err, ErrTransfer) {
		t.Fatalf("expected ErrTransfer, got %v", err)
	}
	if stats.Files != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	data, err := os.ReadFile(filepath.Join(root, testPeer, "first.bin"))
	if err != nil || string(data) != "abcd" {
		t.Fatalf("partial file = %q, %v", data, err)
	}
	if s.tail.Len() != tail.Len() {
		t.Fatal("receiver read past the failed record")
	}
	if _, err := os.Stat(filepath.Join(root, testPeer, "second.bin")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("second file should not exist: %v", err)
	}
}

func TestReceiverEndFlag(t *testing.T) {
	root := t.TempDir()
	client, server := pipePair(t)
	updates := 0
	r := NewReceiver(ReceiverConfig{Root: root})
	done := make(chan serveResult, 1)
	go func() {
		stats, err := r.Serve(context.Background(), server, testPeer, func(SessionStats) { updates++ })
		done <- serveResult{stats: stats, err: err}
	}()

	go func() {
		writeRecord(t, client, "a.txt", 1, []byte("a"))
		_ = protocol.WriteHeader(client, protocol.FileHeader{Filename: "-", Flag: protocol.FlagEnd})
	}()
	res := waitResult(t, done)
	if res.err != nil {
		t.Fatalf("Serve: %v", res.err)
	}
	if res.stats.Files != 1 || updates != 1 {
		t.Fatalf("stats = %+v updates = %d", res.stats, updates)
	}
}

func TestReceiverReadTimeout(t *testing.T) {
	_, server := pipePair(t)
	done := startReceiver(t.TempDir(), server, ReceiverConfig{ReadTimeout: 50 * time.Millisecond})
	res := waitResult(t, done)
	if !errors.Is(res.err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", res.err)
	}
}

func TestReceiverInvalidHeader(t *testing.T) {
	client, server := pipePair(t)
	done := startReceiver(t.TempDir(), server, ReceiverConfig{})
	go func() {
		buf := make([]byte, protocol.HeaderSize)
		copy(buf, "x")
		buf[264] = 9
		_, _ = client.Write(buf)
	}()
	res := waitResult(t, done)
	if !errors.Is(res.err, protocol.ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", res.err)
	}
}

func TestReceiverCreatesPeerDirectory(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "missing", "root")
	client, server := pipePair(t)
	done := startReceiver(root, server, ReceiverConfig{})
	go func() {
		writeRecord(t, client, "f", 0, nil)
		client.Close()
	}()
	if res := waitResult(t, done); res.err != nil {
		t.Fatalf("Serve: %v", res.err)
	}
	info, err := os.Stat(filepath.Join(root, testPeer, "f"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("size = %d", info.Size())
	}
}
