//go:build !linux

package transfer

import (
	"io"
	"os"
)

func sendPayload(dst io.Writer, src *os.File, size int64, report func(int64)) (int64, error) {
	return copyOut(dst, src, size, report)
}

func receivePayload(dst *os.File, src io.Reader, size int64, chunk int, arm func()) (int64, error) {
	return copyIn(dst, src, size, chunk, arm)
}
