package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sheerbytes/pftp/internal/quictransport"
	"github.com/sheerbytes/pftp/internal/session"
	"github.com/sheerbytes/pftp/internal/transfer"
	"github.com/sheerbytes/pftp/internal/transport"
)

// streamAcceptTimeout bounds the wait for a QUIC client to open its stream.
const streamAcceptTimeout = 10 * time.Second

// Config configures a Server.
type Config struct {
	Root          string
	ChunkSize     int
	ReadTimeout   time.Duration
	MaxConns      int     // concurrent sessions across all listeners, 0 = unlimited
	AcceptRate    float64 // new connections per second per IP, 0 = off
	AcceptBurst   int
	TCPReadBuffer int
}

// Server accepts client connections and runs one receive session per
// connection, each on its own goroutine.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	receiver *transfer.Receiver
	registry *session.Registry
	sem      *semaphore.Weighted
	limiter  *ipLimiter
}

// New creates a Server that records its sessions in registry.
func New(cfg Config, registry *session.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if registry == nil {
		registry = session.NewRegistry()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		receiver: transfer.NewReceiver(transfer.ReceiverConfig{
			Root:        cfg.Root,
			ChunkSize:   cfg.ChunkSize,
			ReadTimeout: cfg.ReadTimeout,
			Logger:      logger,
		}),
		registry: registry,
		limiter:  newIPLimiter(cfg.AcceptRate, cfg.AcceptBurst),
	}
	if cfg.MaxConns > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConns))
	}
	return s
}

// Registry returns the server's session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// ListenAndServe listens on addr over TCP, and over QUIC on the same UDP
// port when withQUIC is set, and serves until ctx is cancelled. Listen
// failures are returned before anything is served.
func (s *Server) ListenAndServe(ctx context.Context, addr string, withQUIC bool) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	var qln *quictransport.Listener
	if withQUIC {
		qln, err = quictransport.Listen(addr, s.logger)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen quic %s: %w", addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Serve(gctx, ln) })
	if qln != nil {
		g.Go(func() error { return s.ServeQUIC(gctx, qln) })
	}
	return g.Wait()
}

// Serve accepts TCP connections on ln until ctx is cancelled or ln fails.
// On return every session has ended; cancellation closes active sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Server listening", "addr", ln.Addr().String(), "transport", "tcp")
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var sessions errgroup.Group
	var tempDelay time.Duration
	var serveErr error
	for {
		if err := s.acquire(ctx); err != nil {
			break
		}
		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if ctx.Err() != nil {
				break
			}
			if isTemporary(err) {
				tempDelay = nextDelay(tempDelay)
				s.logger.Warn("Accept failed; retrying", "error", err, "delay", tempDelay)
				select {
				case <-time.After(tempDelay):
				case <-ctx.Done():
				}
				continue
			}
			s.logger.Error("Accept failed", "error", err)
			serveErr = fmt.Errorf("accept: %w", err)
			break
		}
		tempDelay = 0

		peer := peerIP(conn.RemoteAddr())
		if !s.limiter.Allow(peer) {
			s.logger.Warn("Connection rate limited", "peer", peer)
			conn.Close()
			s.release()
			continue
		}
		if s.cfg.TCPReadBuffer > 0 {
			res := transport.ApplyTCPBuffers(conn, s.cfg.TCPReadBuffer, 0)
			s.logger.Debug("tcp buffers", "peer", peer, "status", res.Status, "read", res.RequestedR, "err", res.Err)
		}
		sessions.Go(func() error {
			defer s.release()
			s.handle(ctx, conn, conn.RemoteAddr(), "tcp")
			return nil
		})
	}

	if ctx.Err() != nil {
		if n := s.registry.CloseAll(); n > 0 {
			s.logger.Info("Closing active sessions", "count", n)
		}
	}
	_ = sessions.Wait()
	return serveErr
}

// ServeQUIC accepts QUIC connections on ln until ctx is cancelled or ln fails.
func (s *Server) ServeQUIC(ctx context.Context, ln *quictransport.Listener) error {
	s.logger.Info("Server listening", "addr", ln.Addr().String(), "transport", "quic")
	defer ln.Close()

	var sessions errgroup.Group
	var serveErr error
	for {
		if err := s.acquire(ctx); err != nil {
			break
		}
		qc, err := ln.Accept(ctx)
		if err != nil {
			s.release()
			if ctx.Err() == nil {
				s.logger.Error("Accept failed", "error", err, "transport", "quic")
				serveErr = fmt.Errorf("accept quic: %w", err)
			}
			break
		}

		peer := peerIP(qc.RemoteAddr())
		if !s.limiter.Allow(peer) {
			s.logger.Warn("Connection rate limited", "peer", peer)
			qc.Close()
			s.release()
			continue
		}
		sessions.Go(func() error {
			defer s.release()
			actx, cancel := context.WithTimeout(ctx, streamAcceptTimeout)
			stream, err := qc.AcceptStream(actx)
			cancel()
			if err != nil {
				s.logger.Warn("QUIC stream not opened", "peer", peer, "error", err)
				qc.Close()
				return nil
			}
			s.handle(ctx, stream, qc.RemoteAddr(), "quic")
			return nil
		})
	}

	if ctx.Err() != nil {
		s.registry.CloseAll()
	}
	_ = sessions.Wait()
	return serveErr
}

// handle runs one session to completion and always closes the stream.
func (s *Server) handle(ctx context.Context, stream transfer.Stream, remote net.Addr, carrier string) {
	peer := peerIP(remote)
	sess := s.registry.Add(remote.String(), peer, carrier, stream)
	defer s.registry.Remove(sess.ID)
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	log := s.logger.With("session", sess.ID)
	log.Info("Client connected", "peer", peer, "remote", remote.String(), "transport", carrier)

	stats, err := s.receiver.Serve(ctx, stream, peer, func(st transfer.SessionStats) {
		s.registry.Update(sess.ID, st.Files, st.Bytes)
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("Session ended with error", "peer", peer, "files", stats.Files,
			"bytes", transport.FormatBytes(stats.Bytes), "error", err)
		return
	}
	log.Info("Client disconnected", "peer", peer, "files", stats.Files, "bytes", transport.FormatBytes(stats.Bytes))
}

func (s *Server) acquire(ctx context.Context) error {
	if s.sem == nil {
		return ctx.Err()
	}
	return s.sem.Acquire(ctx, 1)
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// peerIP returns the host part of addr, which names the sender's directory.
func peerIP(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// isTemporary reports accept errors worth retrying, such as EMFILE.
func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

// nextDelay doubles the accept retry delay from 5ms up to 1s.
func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
