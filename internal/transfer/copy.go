package transfer

import (
	"errors"
	"fmt"
	"io"

	"github.com/sheerbytes/pftp/internal/bufpool"
)

// sendChunkSize is the buffered send step when sendfile is unavailable.
const sendChunkSize = 64 * 1024

// copyOut writes exactly size bytes from src to dst in pooled chunks.
func copyOut(dst io.Writer, src io.Reader, size int64, report func(int64)) (int64, error) {
	pool := bufpool.Shared(sendChunkSize)
	bp := pool.Get()
	defer pool.Put(bp)
	buf := *bp

	var done int64
	for done < size {
		step := int64(len(buf))
		if rem := size - done; rem < step {
			step = rem
		}
		n, err := io.ReadFull(src, buf[:step])
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			done += int64(w)
			if werr != nil {
				return done, werr
			}
			report(done)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return done, fmt.Errorf("source shrank to %d of %d bytes: %w", done, size, io.ErrUnexpectedEOF)
			}
			return done, err
		}
	}
	return done, nil
}

// copyIn reads exactly size bytes from src into dst, at most chunk bytes per
// step. arm is called before every read so a read timeout covers each step.
func copyIn(dst io.Writer, src io.Reader, size int64, chunk int, arm func()) (int64, error) {
	pool := bufpool.Shared(chunk)
	bp := pool.Get()
	defer pool.Put(bp)
	buf := *bp

	var done int64
	for done < size {
		step := int64(len(buf))
		if rem := size - done; rem < step {
			step = rem
		}
		arm()
		n, err := src.Read(buf[:step])
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			done += int64(w)
			if werr != nil {
				return done, werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if done == size {
					return done, nil
				}
				return done, io.ErrUnexpectedEOF
			}
			return done, err
		}
	}
	return done, nil
}
