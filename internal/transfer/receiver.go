package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sheerbytes/pftp/pkg/protocol"
)

// DefaultChunkSize is the number of payload bytes moved per receive step.
const DefaultChunkSize = 1024

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Root is the storage root. Files land under Root/<peer>/.
	Root string
	// ChunkSize bounds each receive step. Zero means DefaultChunkSize.
	ChunkSize int
	// ReadTimeout, when positive, is armed before every header and chunk read.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// SessionStats counts what a session has stored so far.
type SessionStats struct {
	Files int
	Bytes int64
}

// Receiver stores the files arriving on a stream.
type Receiver struct {
	root        string
	chunkSize   int
	readTimeout time.Duration
	logger      *slog.Logger
}

// NewReceiver creates a Receiver from cfg.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Receiver{
		root:        cfg.Root,
		chunkSize:   chunk,
		readTimeout: cfg.ReadTimeout,
		logger:      logger,
	}
}

// Serve reads header and payload records from s until the peer closes the
// stream, sends END, or an error occurs. peer is the sender's IP address and
// names the per-sender directory. update, if non-nil, is called after each
// stored file.
//
// A clean end returns nil. Any other outcome leaves the stream unusable; a
// file whose payload was cut short stays on disk with the bytes that arrived.
func (r *Receiver) Serve(ctx context.Context, s Stream, peer string, update func(SessionStats)) (SessionStats, error) {
	var stats SessionStats
	arm := r.armFunc(s)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		arm()
		h, err := protocol.ReadHeader(s)
		if errors.Is(err, protocol.ErrPeerClosed) {
			return stats, nil
		}
		if err != nil {
			r.logger.Error("Receive header failed", "peer", peer, "error", err)
			return stats, err
		}
		if h.Flag == protocol.FlagEnd {
			r.logger.Debug("end of transfer", "peer", peer)
			return stats, nil
		}

		n, err := r.receiveFile(s, peer, h, arm)
		if err != nil {
			return stats, err
		}
		stats.Files++
		stats.Bytes += n
		if update != nil {
			update(stats)
		}
	}
}

func (r *Receiver) receiveFile(s Stream, peer string, h protocol.FileHeader, arm func()) (int64, error) {
	dest, err := r.destination(peer, h.Filename)
	if err != nil {
		r.logger.Error("File creation failed", "name", h.Filename, "peer", peer, "error", err)
		return 0, err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		r.logger.Error("File creation failed", "name", h.Filename, "peer", peer, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrPath, err)
	}

	r.logger.Info("Receiving file", "name", h.Filename, "size", h.Filesize, "peer", peer)
	n, err := receivePayload(f, s, h.Filesize, r.chunkSize, arm)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		r.logger.Error("Receive data failed", "name", h.Filename, "peer", peer, "received", n, "size", h.Filesize, "error", err)
		return n, fmt.Errorf("%w: %s: received %d of %d bytes: %w", ErrTransfer, h.Filename, n, h.Filesize, err)
	}
	r.logger.Info("File received successfully", "name", h.Filename, "size", n, "peer", peer, "path", dest)
	return n, nil
}

// destination maps a header filename to a path under root/peer, creating
// every missing directory. A single leading slash is dropped, so
// "/etc/passwd" lands at root/peer/etc/passwd. Names that would leave the
// peer directory are rejected.
func (r *Receiver) destination(peer, name string) (string, error) {
	peerDir := filepath.Join(r.root, peer)
	if err := r.ensureDir(peerDir); err != nil {
		return "", err
	}

	rel := filepath.FromSlash(strings.TrimPrefix(name, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: refusing destination %q", ErrPath, name)
	}
	dest := filepath.Join(peerDir, rel)
	if err := r.ensureDir(filepath.Dir(dest)); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *Receiver) ensureDir(dir string) error {
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrPath, dir)
		}
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrPath, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrPath, err)
	}
	r.logger.Info("Created directory", "dir", dir)
	return nil
}

func (r *Receiver) armFunc(s Stream) func() {
	d, ok := s.(readDeadliner)
	if !ok || r.readTimeout <= 0 {
		return func() {}
	}
	return func() {
		_ = d.SetReadDeadline(time.Now().Add(r.readTimeout))
	}
}
