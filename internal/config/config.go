package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sheerbytes/pftp/pkg/protocol"
)

// StorageDirName is the directory under the home directory that holds received files.
const StorageDirName = "PFTP_FILES"

// ErrUsage indicates the command line did not match the expected shape.
var ErrUsage = errors.New("usage error")

// ServerConfig holds configuration for the server binary.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	Root          string        `yaml:"root"`
	LogFile       string        `yaml:"log_file"`
	LogLevel      string        `yaml:"log_level"`
	MaxConns      int           `yaml:"max_conns"`       // 0 = unlimited
	AcceptRate    float64       `yaml:"accept_rate"`     // new connections per second per IP, 0 = off
	AcceptBurst   int           `yaml:"accept_burst"`    // burst for AcceptRate
	ReadTimeout   time.Duration `yaml:"read_timeout"`    // 0 = wait forever
	ChunkSize     int           `yaml:"chunk_size"`      // bytes moved per receive step
	QUIC          bool          `yaml:"quic"`            // also accept QUIC on the same port
	StatusAddr    string        `yaml:"status_addr"`     // HTTP status/feed address, empty = off
	TCPReadBuffer int           `yaml:"tcp_read_buffer"` // socket receive buffer, 0 = kernel default
}

// ClientConfig holds configuration for the client binary.
type ClientConfig struct {
	Recursive      bool          `yaml:"-"`
	ServerIP       string        `yaml:"-"`
	Path           string        `yaml:"-"`
	Port           int           `yaml:"port"`
	Transport      string        `yaml:"transport"` // "tcp" or "quic"
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	LogLevel       string        `yaml:"log_level"`
	TCPWriteBuffer int           `yaml:"tcp_write_buffer"`
	NoProgress     bool          `yaml:"no_progress"`
	Bench          bool          `yaml:"bench"` // print a throughput summary after the run
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:        fmt.Sprintf(":%d", protocol.Port),
		Root:        defaultStorageRoot(),
		LogFile:     "server.log",
		LogLevel:    "info",
		MaxConns:    1024,
		AcceptBurst: 4,
		ChunkSize:   1024,
	}
}

// DefaultClientConfig returns the built-in client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Port:        protocol.Port,
		Transport:   "tcp",
		DialTimeout: 10 * time.Second,
		LogLevel:    "error",
	}
}

// ParseServerConfig parses server configuration from an optional YAML file,
// environment variables and flags, in increasing order of precedence.
func ParseServerConfig(args []string) (ServerConfig, error) {
	return parseServerConfigWithFlagSet(flag.NewFlagSet("pftpserv", flag.ContinueOnError), args)
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path := configFileFromArgs(args); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return ServerConfig{}, err
		}
	}

	// Read from environment
	if addr := os.Getenv("PFTP_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if root := os.Getenv("PFTP_ROOT"); root != "" {
		cfg.Root = root
	}
	if logFile := os.Getenv("PFTP_LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}
	if logLevel := os.Getenv("PFTP_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if raw := os.Getenv("PFTP_MAX_CONNS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid PFTP_MAX_CONNS: %w", err)
		}
		cfg.MaxConns = n
	}
	if statusAddr := os.Getenv("PFTP_STATUS_ADDR"); statusAddr != "" {
		cfg.StatusAddr = statusAddr
	}

	// Flags override environment
	fs.String("config", "", "YAML configuration file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "storage root for received files")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "append-only event log file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "max concurrently served connections (0 = unlimited)")
	fs.Float64Var(&cfg.AcceptRate, "accept-rate", cfg.AcceptRate, "new connections per second per sender IP (0 = unlimited)")
	fs.IntVar(&cfg.AcceptBurst, "accept-burst", cfg.AcceptBurst, "burst allowance for -accept-rate")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "idle read timeout per connection (0 = none)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "bytes moved per receive step")
	fs.BoolVar(&cfg.QUIC, "quic", cfg.QUIC, "also accept QUIC connections on the same port")
	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "HTTP status and event feed address (empty = disabled)")
	fs.IntVar(&cfg.TCPReadBuffer, "tcp-read-buffer", cfg.TCPReadBuffer, "TCP receive buffer size in bytes (0 = kernel default)")
	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}
	if fs.NArg() > 0 {
		return ServerConfig{}, fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}

	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 1
	}
	if cfg.MaxConns < 0 {
		cfg.MaxConns = 0
	}
	if cfg.AcceptBurst < 1 {
		cfg.AcceptBurst = 1
	}
	return cfg, nil
}

// ParseClientConfig parses `[-r] [flags] <server-ip> <path>`.
func ParseClientConfig(args []string) (ClientConfig, error) {
	return parseClientConfigWithFlagSet(flag.NewFlagSet("pftp", flag.ContinueOnError), args)
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path := configFileFromArgs(args); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return ClientConfig{}, err
		}
	}

	if raw := os.Getenv("PFTP_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid PFTP_PORT: %w", err)
		}
		cfg.Port = port
	}
	if transport := os.Getenv("PFTP_TRANSPORT"); transport != "" {
		cfg.Transport = transport
	}
	if logLevel := os.Getenv("PFTP_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	fs.SetOutput(io.Discard)
	fs.String("config", "", "YAML configuration file")
	fs.BoolVar(&cfg.Recursive, "r", false, "send a directory recursively")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport (tcp, quic)")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "connect timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.TCPWriteBuffer, "tcp-write-buffer", cfg.TCPWriteBuffer, "TCP send buffer size in bytes (0 = kernel default)")
	fs.BoolVar(&cfg.NoProgress, "no-progress", cfg.NoProgress, "do not print progress")
	fs.BoolVar(&cfg.Bench, "bench", cfg.Bench, "print a throughput summary after the run")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ClientConfig{}, err
		}
		return ClientConfig{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	rest := fs.Args()
	if len(rest) != 2 {
		return ClientConfig{}, fmt.Errorf("%w: expected <server-ip> <path>", ErrUsage)
	}
	cfg.ServerIP = rest[0]
	cfg.Path = rest[1]

	switch cfg.Transport {
	case "tcp", "quic":
	default:
		return ClientConfig{}, fmt.Errorf("%w: unknown transport %q", ErrUsage, cfg.Transport)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return ClientConfig{}, fmt.Errorf("%w: invalid port %d", ErrUsage, cfg.Port)
	}
	return cfg, nil
}

// configFileFromArgs finds -config/--config ahead of flag parsing so the file
// can sit below env and flags in precedence. PFTP_CONFIG is the fallback.
func configFileFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if len(name) == len(arg) {
			continue
		}
		if value, ok := strings.CutPrefix(name, "config="); ok {
			return value
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("PFTP_CONFIG")
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func defaultStorageRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return StorageDirName
	}
	return filepath.Join(home, StorageDirName)
}
