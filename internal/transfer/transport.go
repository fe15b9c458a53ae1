package transfer

import (
	"errors"
	"io"
	"time"
)

// Stream is the framed byte stream between a client and the server.
// A *net.TCPConn, a net.Pipe end and a QUIC stream adapter all satisfy it.
// Streams backed by a TCP socket on Linux take the zero-copy path.
type Stream interface {
	io.Reader
	io.Writer
	// Close closes the stream. After Close is called, Read and Write operations
	// will return errors.
	Close() error
}

// readDeadliner is implemented by streams that support read timeouts.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

var (
	// ErrPath indicates a local filesystem failure for one file: open, stat,
	// create or an unacceptable destination name. Nothing reached the wire.
	ErrPath = errors.New("path error")
	// ErrTransfer indicates the payload could not be moved after its header
	// was on the wire. The stream is no longer framed.
	ErrTransfer = errors.New("transfer error")
)
