package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/sheerbytes/pftp/pkg/protocol"
)

// ProgressFunc receives the running byte count of the file being sent.
// sent never decreases for a given name.
type ProgressFunc func(name string, sent, total int64)

// Summary describes a completed directory send.
type Summary struct {
	Files   int
	Bytes   int64
	Skipped int
}

// Sender writes files to a Stream as back-to-back header and payload records.
// It never reads from the stream.
type Sender struct {
	w        io.Writer
	logger   *slog.Logger
	progress ProgressFunc
	lstat    func(string) (fs.FileInfo, error)
}

// NewSender returns a Sender writing to w. progress may be nil.
func NewSender(w io.Writer, logger *slog.Logger, progress ProgressFunc) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if progress == nil {
		progress = func(string, int64, int64) {}
	}
	return &Sender{
		w:        w,
		logger:   logger,
		progress: progress,
		lstat:    os.Lstat,
	}
}

// SendFile sends one regular file under the name path, exactly as given.
// Errors wrap ErrPath when nothing was written for the file and ErrTransfer
// once any byte of it reached the stream.
func (s *Sender) SendFile(ctx context.Context, path string) error {
	_, err := s.sendFile(ctx, path)
	return err
}

func (s *Sender) sendFile(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPath, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrPath, path)
	}
	size := info.Size()

	h := protocol.FileHeader{Filename: path, Filesize: size, Flag: protocol.FlagStart}
	buf, err := h.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrPath, path, err)
	}
	if _, err := s.w.Write(buf); err != nil {
		return 0, fmt.Errorf("%w: header for %s: %w", ErrTransfer, path, err)
	}

	s.logger.Debug("sending file", "name", path, "size", size)
	s.progress(path, 0, size)
	n, err := sendPayload(s.w, f, size, func(sent int64) {
		s.progress(path, sent, size)
	})
	if err != nil {
		return n, fmt.Errorf("%w: %s: sent %d of %d bytes: %w", ErrTransfer, path, n, size, err)
	}
	return n, nil
}

// SendDirectory walks root depth-first and sends every regular file beneath
// it. Symbolic links and special files are skipped. An entry that cannot be
// examined or opened is skipped without affecting its siblings; a failure
// after a header was written aborts the walk.
func (s *Sender) SendDirectory(ctx context.Context, root string) (Summary, error) {
	var sum Summary
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root {
				return sum, fmt.Errorf("%w: %w", ErrPath, err)
			}
			s.logger.Warn("skipping directory", "dir", dir, "error", err)
			sum.Skipped++
			continue
		}

		// Push in reverse so subdirectories are visited in name order.
		var subdirs []string
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			name := dir + "/" + e.Name()
			info, err := s.lstat(name)
			if err != nil {
				s.logger.Warn("skipping entry", "name", name, "error", err)
				sum.Skipped++
				continue
			}
			switch {
			case info.IsDir():
				subdirs = append(subdirs, name)
			case info.Mode().IsRegular():
				n, err := s.sendFile(ctx, name)
				if err != nil {
					if isPathError(err) {
						s.logger.Warn("skipping file", "name", name, "error", err)
						sum.Skipped++
						continue
					}
					return sum, err
				}
				sum.Files++
				sum.Bytes += n
			default:
				s.logger.Debug("skipping special file", "name", name, "mode", info.Mode().String())
				sum.Skipped++
			}
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return sum, nil
}

func isPathError(err error) bool {
	return errors.Is(err, ErrPath) && !errors.Is(err, ErrTransfer)
}
