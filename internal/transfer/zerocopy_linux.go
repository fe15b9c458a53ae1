//go:build linux

package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// maxSendfileChunk bounds a single sendfile(2) call.
const maxSendfileChunk = 1 << 30

// sendPayload moves size bytes of src to dst. TCP sockets use sendfile(2)
// through the runtime poller; anything else takes the buffered path.
func sendPayload(dst io.Writer, src *os.File, size int64, report func(int64)) (int64, error) {
	tc, ok := dst.(*net.TCPConn)
	if !ok || size == 0 {
		return copyOut(dst, src, size, report)
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return copyOut(dst, src, size, report)
	}
	srcFd := int(src.Fd())

	var offset int64
	for offset < size {
		count := size - offset
		if count > maxSendfileChunk {
			count = maxSendfileChunk
		}
		var n int
		var opErr error
		werr := rc.Write(func(fd uintptr) bool {
			n, opErr = unix.Sendfile(int(fd), srcFd, &offset, int(count))
			return !errors.Is(opErr, unix.EAGAIN) && !errors.Is(opErr, unix.EINTR)
		})
		if werr != nil {
			return offset, werr
		}
		if opErr != nil {
			return offset, os.NewSyscallError("sendfile", opErr)
		}
		if n == 0 {
			return offset, fmt.Errorf("source shrank to %d of %d bytes: %w", offset, size, io.ErrUnexpectedEOF)
		}
		report(offset)
	}
	return offset, nil
}

// receivePayload moves exactly size bytes from src into dst. TCP sockets are
// spliced into a pipe and from the pipe into the file, at most chunk bytes
// per step; anything else takes the buffered path.
func receivePayload(dst *os.File, src io.Reader, size int64, chunk int, arm func()) (int64, error) {
	tc, ok := src.(*net.TCPConn)
	if !ok || size == 0 {
		return copyIn(dst, src, size, chunk, arm)
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return copyIn(dst, src, size, chunk, arm)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return 0, os.NewSyscallError("pipe2", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])
	dstFd := int(dst.Fd())

	var done int64
	for done < size {
		step := int64(chunk)
		if rem := size - done; rem < step {
			step = rem
		}
		arm()
		var n int64
		var opErr error
		rerr := rc.Read(func(fd uintptr) bool {
			n, opErr = unix.Splice(int(fd), nil, p[1], nil, int(step), unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
			return !errors.Is(opErr, unix.EAGAIN) && !errors.Is(opErr, unix.EINTR)
		})
		if rerr != nil {
			return done, rerr
		}
		if opErr != nil {
			return done, os.NewSyscallError("splice", opErr)
		}
		if n == 0 {
			return done, io.ErrUnexpectedEOF
		}
		for n > 0 {
			w, err := unix.Splice(p[0], nil, dstFd, nil, int(n), unix.SPLICE_F_MOVE)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				return done, os.NewSyscallError("splice", err)
			}
			if w == 0 {
				return done, io.ErrShortWrite
			}
			n -= w
			done += w
		}
	}
	return done, nil
}
