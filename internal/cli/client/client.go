package client

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
	"strconv"
	"syscall"

	"github.com/sheerbytes/pftp/internal/bench"
	"github.com/sheerbytes/pftp/internal/clienthttp"
	"github.com/sheerbytes/pftp/internal/config"
	"github.com/sheerbytes/pftp/internal/logging"
	"github.com/sheerbytes/pftp/internal/progress"
	"github.com/sheerbytes/pftp/internal/quictransport"
	"github.com/sheerbytes/pftp/internal/termio"
	"github.com/sheerbytes/pftp/internal/transfer"
	"github.com/sheerbytes/pftp/internal/transport"
	"github.com/sheerbytes/pftp/internal/wsclient"
	"github.com/sheerbytes/pftp/pkg/protocol"
)

const clientVersion = "v0.1.0"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// Run executes the pftp command line and returns the process exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, termio.Stdout(), termio.Stderr())
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "watch":
		return runWatch(ctx, args[1:], stdout, stderr)
	case "sessions":
		return runSessions(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return exitOK
	case "-v", "--version", "version":
		fmt.Fprintln(stdout, clientVersion)
		return exitOK
	}
	return runSend(ctx, args, stdout, stderr)
}

func runSend(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.ParseClientConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout)
			return exitOK
		}
		fmt.Fprintf(stderr, "%v\n", err)
		printUsage(stderr)
		if errors.Is(err, config.ErrUsage) {
			return exitUsage
		}
		return exitFailure
	}
	logger := logging.New("pftp", cfg.LogLevel)

	info, err := os.Stat(cfg.Path)
	if err != nil {
		fmt.Fprintf(stderr, "Stat failed: %v\n", err)
		return exitFailure
	}
	if info.IsDir() && !cfg.Recursive {
		fmt.Fprintln(stderr, "Send directory please use -r flag")
		return exitUsage
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		fmt.Fprintf(stderr, "%s is not a regular file\n", cfg.Path)
		return exitFailure
	}

	stream, err := dial(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Connection failed: %v\n", err)
		return exitFailure
	}

	var printer *progress.Printer
	var meter *bench.Bench
	var observers []transfer.ProgressFunc
	if !cfg.NoProgress {
		printer = progress.NewPrinter(stdout)
		observers = append(observers, printer.Update)
	}
	if cfg.Bench {
		meter = bench.NewBench()
		observers = append(observers, meter.Observe)
	}
	sender := transfer.NewSender(stream, logger, fanoutProgress(observers))

	var sum transfer.Summary
	if info.IsDir() {
		sum, err = sender.SendDirectory(ctx, cfg.Path)
	} else {
		err = sender.SendFile(ctx, cfg.Path)
		if err == nil {
			sum = transfer.Summary{Files: 1, Bytes: info.Size()}
		}
	}
	closeErr := stream.Close()
	if err != nil {
		if printer != nil {
			printer.Abort(err)
		} else {
			fmt.Fprintf(stderr, "Send failed: %v\n", err)
		}
		return exitFailure
	}
	if closeErr != nil {
		logger.Warn("close failed", "error", closeErr)
	}

	if info.IsDir() {
		fmt.Fprintf(stdout, "Sent %d files (%s), skipped %d\n", sum.Files, transport.FormatBytes(sum.Bytes), sum.Skipped)
	}
	if meter != nil {
		fmt.Fprintln(stdout, bench.Line("SEND", meter.Final(), cfg.Transport))
	}
	return exitOK
}

func fanoutProgress(fns []transfer.ProgressFunc) transfer.ProgressFunc {
	switch len(fns) {
	case 0:
		return nil
	case 1:
		return fns[0]
	}
	return func(name string, sent, total int64) {
		for _, fn := range fns {
			fn(name, sent, total)
		}
	}
}

func dial(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) (transfer.Stream, error) {
	if net.ParseIP(cfg.ServerIP) == nil {
		return nil, fmt.Errorf("invalid address %q", cfg.ServerIP)
	}
	addr := net.JoinHostPort(cfg.ServerIP, strconv.Itoa(cfg.Port))
	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if cfg.Transport == "quic" {
		s, err := quictransport.Dial(dctx, addr, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.TCPWriteBuffer > 0 {
		res := transport.ApplyTCPBuffers(conn, 0, cfg.TCPWriteBuffer)
		logger.Debug("tcp buffers", "status", res.Status, "write", res.RequestedW, "err", res.Err)
	}
	return conn.(*net.TCPConn), nil
}

func runWatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: pftp watch <status-addr>")
		return exitUsage
	}
	wsURL, err := wsclient.FeedURL(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "invalid status address: %v\n", err)
		return exitUsage
	}
	logger := logging.New("pftp", "error")
	conn, err := wsclient.Dial(ctx, wsURL, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Connection failed: %v\n", err)
		return exitFailure
	}
	defer conn.Close()

	err = conn.ReadLoop(ctx, func(env protocol.Envelope) {
		fmt.Fprintln(stdout, wsclient.FormatEnvelope(env))
	})
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "feed closed: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func runSessions(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: pftp sessions <status-addr>")
		return exitUsage
	}
	list, err := clienthttp.FetchSessions(ctx, args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Request failed: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "active sessions: %d\n", len(list))
	for _, s := range list {
		fmt.Fprintf(stdout, "  %s %s %s files=%d bytes=%s since=%s\n",
			s.ID, s.Remote, s.Transport, s.Files, transport.FormatBytes(s.Bytes), s.StartedAt.Local().Format("15:04:05"))
	}
	return exitOK
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pftp [-r] [flags] <server_ip> <filename|directory>")
	fmt.Fprintln(w, "       pftp watch <status-addr>")
	fmt.Fprintln(w, "       pftp sessions <status-addr>")
	fmt.Fprintln(w, "flags:")
	fmt.Fprintln(w, "  -r                     send a directory recursively")
	fmt.Fprintf(w, "  -port N                server port (default %d)\n", protocol.Port)
	fmt.Fprintln(w, "  -transport tcp|quic    carrier (default tcp)")
	fmt.Fprintln(w, "  -dial-timeout D        connect timeout (default 10s)")
	fmt.Fprintln(w, "  -tcp-write-buffer N    TCP send buffer in bytes (default kernel)")
	fmt.Fprintln(w, "  -no-progress           do not print progress")
	fmt.Fprintln(w, "  -bench                 print a throughput summary after the run")
	fmt.Fprintln(w, "  -log-level L           debug, info, warn, error (default error)")
	fmt.Fprintln(w, "  -config FILE           YAML configuration file")
}
