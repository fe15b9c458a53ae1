package transport

import (
	"net"
	"strings"
)

const (
	minTCPBuffer = 64 * 1024
	maxTCPBuffer = 64 * 1024 * 1024
)

type TCPTuneResult struct {
	RequestedR int
	RequestedW int
	Status     string
	Err        string
}

// ApplyTCPBuffers sets socket buffer sizes on conn. A size of zero leaves that
// direction at the kernel default. Non-TCP connections report StatusNA.
func ApplyTCPBuffers(conn net.Conn, r, w int) TCPTuneResult {
	result := TCPTuneResult{Status: StatusOK}
	if r == 0 && w == 0 {
		result.Status = StatusSkip
		return result
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok || tcp == nil {
		result.Status = StatusNA
		result.Err = "not a TCP connection"
		return result
	}

	var errs []string
	if r != 0 {
		result.RequestedR = clampTCPBuffer(r)
		if err := tcp.SetReadBuffer(result.RequestedR); err != nil {
			errs = append(errs, "read: "+err.Error())
		}
	}
	if w != 0 {
		result.RequestedW = clampTCPBuffer(w)
		if err := tcp.SetWriteBuffer(result.RequestedW); err != nil {
			errs = append(errs, "write: "+err.Error())
		}
	}
	if len(errs) > 0 {
		result.Status = StatusDenied
		result.Err = strings.Join(errs, "; ")
	}
	return result
}

func clampTCPBuffer(n int) int {
	if n < minTCPBuffer {
		return minTCPBuffer
	}
	if n > maxTCPBuffer {
		return maxTCPBuffer
	}
	return n
}
