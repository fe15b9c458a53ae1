package quictransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/sheerbytes/pftp/internal/transport"
)

const (
	// ALPNProtocol is the Application-Layer Protocol Negotiation identifier for pftp over QUIC.
	ALPNProtocol = "pftp-quic-v1"

	connWindow   = 64 * 1024 * 1024
	streamWindow = 16 * 1024 * 1024
	idleTimeout  = 30 * time.Second
)

// ServerConfig returns a TLS configuration for the QUIC server.
// QUIC requires TLS; the certificate is self-signed and never verified, so
// it authenticates nothing.
func ServerConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
	}, nil
}

// ClientConfig returns a TLS configuration for the QUIC client.
func ClientConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}
}

// DefaultServerQUICConfig returns the server QUIC config. Each connection
// carries exactly one stream.
func DefaultServerQUICConfig() (*quic.Config, transport.QuicTuneResult) {
	return transport.BuildQuicConfig(&quic.Config{
		DisablePathMTUDiscovery: true,
	}, connWindow, streamWindow, idleTimeout)
}

// DefaultClientQUICConfig returns the client QUIC config.
func DefaultClientQUICConfig() (*quic.Config, transport.QuicTuneResult) {
	cfg, res := transport.BuildQuicConfig(&quic.Config{
		DisablePathMTUDiscovery: true,
	}, connWindow, streamWindow, idleTimeout)
	cfg.MaxIncomingStreams = -1
	return cfg, res
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"pftp"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

// Listener accepts QUIC connections that each carry one file stream.
type Listener struct {
	ln     *quic.Listener
	logger *slog.Logger
}

// Listen starts a QUIC listener on the UDP address addr.
func Listen(addr string, logger *slog.Logger) (*Listener, error) {
	tlsConfig, err := ServerConfig()
	if err != nil {
		return nil, err
	}
	cfg, tune := DefaultServerQUICConfig()
	ln, err := quic.ListenAddr(addr, tlsConfig, cfg)
	if err != nil {
		logger.Error("QUIC listen failed", "error", err, "addr", addr)
		return nil, err
	}
	logger.Info("QUIC listener created", "local_addr", ln.Addr(),
		"conn_window", transport.FormatBytesMiB(tune.ConnWin),
		"stream_window", transport.FormatBytesMiB(tune.StreamWin))
	return &Listener{ln: ln, logger: logger}, nil
}

// Accept waits for the next QUIC connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Addr returns the listener's UDP address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Conn is an accepted QUIC connection.
type Conn struct {
	conn *quic.Conn
}

// AcceptStream waits for the client's stream.
func (c *Conn) AcceptStream(ctx context.Context) (*Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to accept QUIC stream: %w", err)
	}
	return &Stream{conn: c.conn, stream: s}, nil
}

// RemoteAddr returns the client's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.CloseWithError(0, "")
}

// Dial connects to a QUIC server at addr and opens the file stream.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Stream, error) {
	cfg, _ := DefaultClientQUICConfig()
	logger.Debug("QUIC dial starting", "remote_addr", addr)
	conn, err := quic.DialAddr(ctx, addr, ClientConfig(), cfg)
	if err != nil {
		return nil, err
	}
	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("failed to open QUIC stream: %w", err)
	}
	logger.Debug("QUIC connection established", "remote_addr", conn.RemoteAddr())
	return &Stream{conn: conn, stream: s, client: true}, nil
}
