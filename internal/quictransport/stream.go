package quictransport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// lingerTimeout bounds how long a client waits for the server to drain its
// stream before tearing the connection down.
const lingerTimeout = 10 * time.Second

// Stream is one bidirectional QUIC stream carrying the framed file stream.
type Stream struct {
	conn   *quic.Conn
	stream *quic.Stream
	client bool
	once   sync.Once
	err    error
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

// SetReadDeadline sets the read deadline on the stream.
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.stream.SetReadDeadline(t)
}

// RemoteAddr returns the peer address of the underlying connection.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close ends the stream. A client half-closes and waits for the server to
// close the connection, so every byte written is delivered; a server closes
// at once.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.err = s.stream.Close()
		if s.client {
			select {
			case <-s.conn.Context().Done():
			case <-time.After(lingerTimeout):
				s.err = errors.Join(s.err, errors.New("timed out waiting for server to drain stream"))
			}
		}
		if err := s.conn.CloseWithError(0, ""); err != nil && s.err == nil {
			s.err = err
		}
	})
	return s.err
}
