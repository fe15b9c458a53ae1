package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/pftp/internal/config"
	"github.com/sheerbytes/pftp/internal/eventfeed"
	"github.com/sheerbytes/pftp/internal/logging"
	"github.com/sheerbytes/pftp/internal/server"
	"github.com/sheerbytes/pftp/internal/session"
	"github.com/sheerbytes/pftp/internal/termio"
)

const serverVersion = "v0.1.0"

// Run executes the pftpserv command line and returns the process exit code.
// It serves until SIGINT or SIGTERM.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, termio.Stdout(), termio.Stderr())
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if hasVersionFlag(args) {
		fmt.Fprintln(stdout, serverVersion)
		return 0
	}
	cfg, err := config.ParseServerConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	// The event log and feed always carry connection events; -log-level only
	// quiets the console.
	level := min(logging.ParseLevel(cfg.LogLevel), slog.LevelInfo)
	eventLog, err := logging.OpenEventLog(cfg.LogFile, level)
	if err != nil {
		fmt.Fprintf(stderr, "Open log file failed: %v\n", err)
		return 1
	}
	defer eventLog.Close()

	hub := eventfeed.NewHub(level)
	defer hub.CloseAll()
	logger := logging.New("pftpserv", cfg.LogLevel, eventLog.Handler(), hub.Handler())

	registry := session.NewRegistry()
	srv := server.New(server.Config{
		Root:          cfg.Root,
		ChunkSize:     cfg.ChunkSize,
		ReadTimeout:   cfg.ReadTimeout,
		MaxConns:      cfg.MaxConns,
		AcceptRate:    cfg.AcceptRate,
		AcceptBurst:   cfg.AcceptBurst,
		TCPReadBuffer: cfg.TCPReadBuffer,
	}, registry, logger)

	var statusLn net.Listener
	if cfg.StatusAddr != "" {
		statusLn, err = net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			logger.Error("Status listen failed", "addr", cfg.StatusAddr, "error", err)
			fmt.Fprintf(stderr, "Status listen failed: %v\n", err)
			return 1
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Addr, cfg.QUIC)
	})
	if statusLn != nil {
		logger.Info("Status server listening", "addr", statusLn.Addr().String())
		g.Go(func() error {
			return eventfeed.Serve(gctx, statusLn, eventfeed.NewMux(hub, registry, logger), eventfeed.DefaultMaxWatchers)
		})
	}
	fmt.Fprintf(stdout, "FTP Server is running on %s...\n", displayAddr(cfg.Addr))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server failed", "error", err)
		fmt.Fprintf(stderr, "Server failed: %v\n", err)
		return 1
	}
	logger.Info("Server stopped")
	return 0
}

func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		return "port " + port
	}
	return net.JoinHostPort(host, port)
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			return true
		}
	}
	return false
}
