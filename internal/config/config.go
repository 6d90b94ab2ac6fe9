// Package config resolves fragd settings from defaults, FRAGD_* environment
// variables and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const envPrefix = "FRAGD_"

// ServerConfig holds configuration for `fragd serve`.
type ServerConfig struct {
	Addr             string
	Root             string
	Timeout          time.Duration
	Retries          int
	PathPolicy       string
	MkdirAll         bool
	MaxPackets       int64
	MaxSessions      int
	HandshakesPerSec float64 // per client IP; 0 disables limiting
	HandshakeBurst   int
	ReadBuffer       int
	WriteBuffer      int
	MonitorAddr      string        // empty disables the monitor
	MetricsInterval  time.Duration // 0 disables periodic metric logging
	LogLevel         string

	envErrs []error
}

// SendConfig holds configuration for `fragd send`.
type SendConfig struct {
	Server           string
	RemoteName       string
	RemoteDir        string
	BodySize         int
	Passes           int
	HandshakeTimeout time.Duration
	HandshakeRetries int
	Pace             time.Duration
	LogLevel         string

	envErrs []error
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":54321",
		Root:            ".",
		Timeout:         3 * time.Second,
		Retries:         5,
		PathPolicy:      "confine",
		MaxPackets:      1 << 22,
		MaxSessions:     256,
		HandshakeBurst:  8,
		MetricsInterval: 0,
		LogLevel:        "info",
	}
}

// DefaultSendConfig returns the built-in sender defaults.
func DefaultSendConfig() SendConfig {
	return SendConfig{
		Server:           "127.0.0.1:54321",
		BodySize:         1024,
		Passes:           1,
		HandshakeTimeout: time.Second,
		HandshakeRetries: 5,
		LogLevel:         "info",
	}
}

// BindServerFlags loads environment overrides into a default config and
// registers flags that write into it. Call Validate after fs is parsed.
func BindServerFlags(fs *pflag.FlagSet) *ServerConfig {
	cfg := DefaultServerConfig()
	e := envReader{}

	e.str("ADDR", &cfg.Addr)
	e.str("ROOT", &cfg.Root)
	e.duration("TIMEOUT", &cfg.Timeout)
	e.integer("RETRIES", &cfg.Retries)
	e.str("PATH_POLICY", &cfg.PathPolicy)
	e.boolean("MKDIR", &cfg.MkdirAll)
	e.int64("MAX_PACKETS", &cfg.MaxPackets)
	e.integer("MAX_SESSIONS", &cfg.MaxSessions)
	e.float("HANDSHAKES_PER_SEC", &cfg.HandshakesPerSec)
	e.integer("HANDSHAKE_BURST", &cfg.HandshakeBurst)
	e.integer("READ_BUFFER", &cfg.ReadBuffer)
	e.integer("WRITE_BUFFER", &cfg.WriteBuffer)
	e.str("MONITOR_ADDR", &cfg.MonitorAddr)
	e.duration("METRICS_INTERVAL", &cfg.MetricsInterval)
	e.str("LOG_LEVEL", &cfg.LogLevel)
	cfg.envErrs = e.errs

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "UDP address to listen on for handshakes")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "directory received files are written under")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-datagram receive timeout")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "consecutive non-progress events tolerated before a session fails")
	fs.StringVar(&cfg.PathPolicy, "path-policy", cfg.PathPolicy, "client path handling: confine or flatten")
	fs.BoolVar(&cfg.MkdirAll, "mkdir", cfg.MkdirAll, "create missing destination directories")
	fs.Int64Var(&cfg.MaxPackets, "max-packets", cfg.MaxPackets, "largest file_packets accepted in a handshake")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "concurrent session limit")
	fs.Float64Var(&cfg.HandshakesPerSec, "handshakes-per-sec", cfg.HandshakesPerSec, "handshakes accepted per second per client IP (0 disables)")
	fs.IntVar(&cfg.HandshakeBurst, "handshake-burst", cfg.HandshakeBurst, "handshake burst per client IP")
	fs.IntVar(&cfg.ReadBuffer, "read-buffer", cfg.ReadBuffer, "socket read buffer in bytes (0 keeps the OS default)")
	fs.IntVar(&cfg.WriteBuffer, "write-buffer", cfg.WriteBuffer, "socket write buffer in bytes (0 keeps the OS default)")
	fs.StringVar(&cfg.MonitorAddr, "monitor-addr", cfg.MonitorAddr, "HTTP address for /health, /sessions and /events (empty disables)")
	fs.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "interval for logging metrics (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	return &cfg
}

// Validate reports bad environment values and impossible settings, and
// clamps the soft limits into range.
func (c *ServerConfig) Validate() error {
	errs := append([]error(nil), c.envErrs...)
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	switch c.PathPolicy {
	case "confine", "flatten":
	default:
		errs = append(errs, fmt.Errorf("path-policy must be confine or flatten, got %q", c.PathPolicy))
	}
	if c.MaxPackets < 1 {
		errs = append(errs, fmt.Errorf("max-packets must be at least 1, got %d", c.MaxPackets))
	}
	if c.HandshakesPerSec < 0 {
		errs = append(errs, fmt.Errorf("handshakes-per-sec must not be negative, got %g", c.HandshakesPerSec))
	}
	if c.MetricsInterval < 0 {
		errs = append(errs, fmt.Errorf("metrics-interval must not be negative, got %s", c.MetricsInterval))
	}
	if !validLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	if c.MaxSessions < 1 {
		c.MaxSessions = 1
	}
	if c.MaxSessions > 65536 {
		c.MaxSessions = 65536
	}
	if c.HandshakeBurst < 1 {
		c.HandshakeBurst = 1
	}
	if c.ReadBuffer < 0 {
		c.ReadBuffer = 0
	}
	if c.WriteBuffer < 0 {
		c.WriteBuffer = 0
	}
	return errors.Join(errs...)
}

// BindSendFlags is BindServerFlags for the sender.
func BindSendFlags(fs *pflag.FlagSet) *SendConfig {
	cfg := DefaultSendConfig()
	e := envReader{}

	e.str("SERVER", &cfg.Server)
	e.integer("BODY_SIZE", &cfg.BodySize)
	e.integer("PASSES", &cfg.Passes)
	e.duration("HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout)
	e.integer("HANDSHAKE_RETRIES", &cfg.HandshakeRetries)
	e.duration("PACE", &cfg.Pace)
	e.str("LOG_LEVEL", &cfg.LogLevel)
	cfg.envErrs = e.errs

	fs.StringVar(&cfg.Server, "server", cfg.Server, "receiver address (host:port)")
	fs.StringVar(&cfg.RemoteName, "name", cfg.RemoteName, "filename announced to the receiver (default: base name of the file)")
	fs.StringVar(&cfg.RemoteDir, "dir", cfg.RemoteDir, "directory announced to the receiver")
	fs.IntVar(&cfg.BodySize, "body-size", cfg.BodySize, "payload bytes per fragment")
	fs.IntVar(&cfg.Passes, "passes", cfg.Passes, "times every fragment is sent")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "wait for an ack before resending the handshake")
	fs.IntVar(&cfg.HandshakeRetries, "handshake-retries", cfg.HandshakeRetries, "handshake resends before giving up")
	fs.DurationVar(&cfg.Pace, "pace", cfg.Pace, "delay between fragments")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	return &cfg
}

// Validate checks the sender settings and clamps passes into range.
func (c *SendConfig) Validate() error {
	errs := append([]error(nil), c.envErrs...)
	if strings.TrimSpace(c.Server) == "" {
		errs = append(errs, errors.New("server must not be empty"))
	}
	if c.BodySize < 1 {
		errs = append(errs, fmt.Errorf("body-size must be positive, got %d", c.BodySize))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake-timeout must be positive, got %s", c.HandshakeTimeout))
	}
	if c.HandshakeRetries < 0 {
		c.HandshakeRetries = 0
	}
	if c.Pace < 0 {
		c.Pace = 0
	}
	if c.Passes < 1 {
		c.Passes = 1
	}
	if c.Passes > 16 {
		c.Passes = 16
	}
	if !validLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *pflag.FlagSet, args []string) (ServerConfig, error) {
	cfg := BindServerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return *cfg, err
	}
	err := cfg.Validate()
	return *cfg, err
}

// parseSendConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseSendConfigWithFlagSet(fs *pflag.FlagSet, args []string) (SendConfig, error) {
	cfg := BindSendFlags(fs)
	if err := fs.Parse(args); err != nil {
		return *cfg, err
	}
	err := cfg.Validate()
	return *cfg, err
}

func validLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// envReader applies FRAGD_* variables and collects parse failures.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", envPrefix, key, v, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
