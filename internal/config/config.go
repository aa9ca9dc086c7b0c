// Package config provides YAML configuration loading and validation for the
// binlogd server, following the same defaults-then-validate shape as the
// CLI's flag parsing.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Mode selects a decode execution mode. It validates itself at YAML-parse
// time the same way the agent's Severity type does.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeThreaded   Mode = "threaded"
	ModeParallel   Mode = "parallel"
)

var validModes = map[Mode]struct{}{
	ModeSequential: {},
	ModeThreaded:   {},
	ModeParallel:   {},
}

// UnmarshalYAML implements yaml.Unmarshaler so mode values are
// case-normalised and validated at parse time.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	normalised := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validModes[normalised]; !ok {
		return fmt.Errorf("invalid mode %q: must be one of sequential, threaded, parallel", raw)
	}
	*m = normalised
	return nil
}

// ServerConfig is the top-level configuration for binlogd.
type ServerConfig struct {
	// ListenAddr is the HTTP listen address, e.g. "0.0.0.0:8088".
	ListenAddr string `yaml:"listen_addr"`

	// DefaultMode is the decode mode used when a job omits one.
	DefaultMode Mode `yaml:"default_mode"`

	// DefaultWorkers is the worker count used when a job omits one.
	DefaultWorkers int `yaml:"default_workers"`

	// WorkerBinary is the executable re-exec'd for process-pool mode.
	// When omitted, binlogd uses its own executable (os.Executable).
	WorkerBinary string `yaml:"worker_binary"`

	// SQLite configures the job ledger and fallback record store.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres optionally configures bulk record ingestion. A zero-value DSN
	// disables the PostgreSQL sink.
	Postgres PostgresConfig `yaml:"postgres"`

	// Audit configures the hash-chained job completion log.
	Audit AuditConfig `yaml:"audit"`

	// Auth configures RS256 JWT validation for /api/v1 routes.
	Auth AuthConfig `yaml:"auth"`

	// LogLevel is the minimum level of messages emitted by the structured
	// logger: "debug", "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`
}

// SQLiteConfig controls the job ledger database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig controls the optional bulk record sink.
type PostgresConfig struct {
	DSN           string        `yaml:"dsn"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// AuditConfig controls the append-only SHA-256 chained job log.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig controls Bearer-token validation.
type AuthConfig struct {
	// PublicKeyPath is the PEM-encoded RSA public key used to verify RS256
	// tokens.
	PublicKeyPath string `yaml:"public_key_path"`
}

// defaultConfig mirrors the baked-in production defaults merged beneath any
// file-supplied values.
func defaultConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     "127.0.0.1:8088",
		DefaultMode:    ModeSequential,
		DefaultWorkers: 4,
		SQLite:         SQLiteConfig{Path: "binlogd.db"},
		Postgres:       PostgresConfig{BatchSize: 500, FlushInterval: 2 * time.Second},
		Audit:          AuditConfig{Path: "binlogd-audit.log"},
		LogLevel:       "info",
	}
}

// Load reads the YAML file at path, merges it over the built-in defaults
// with mergo (file values win), and validates the result.
func Load(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the built-in defaults and validates the
// result. Callers with in-memory config (tests) should use this directly.
func Parse(data []byte) (*ServerConfig, error) {
	cfg := defaultConfig()

	var fileCfg ServerConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("config: parse YAML: %w", err)
	}

	if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merge defaults: %w", err)
	}

	if errs := Validate(&cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
	}

	return &cfg, nil
}

// Validate checks cfg for semantic errors and returns all of them at once.
func Validate(cfg *ServerConfig) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.ListenAddr == "" {
		add("listen_addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		add("listen_addr %q is not a valid host:port address: %v", cfg.ListenAddr, err)
	}

	if _, ok := validModes[cfg.DefaultMode]; !ok {
		add("default_mode %q is invalid; must be one of sequential, threaded, parallel", cfg.DefaultMode)
	}
	if cfg.DefaultWorkers < 1 {
		add("default_workers must be >= 1")
	}
	if cfg.SQLite.Path == "" {
		add("sqlite.path must not be empty")
	}
	if cfg.Postgres.DSN != "" {
		if cfg.Postgres.BatchSize < 1 {
			add("postgres.batch_size must be >= 1 when postgres.dsn is set")
		}
		if cfg.Postgres.FlushInterval <= 0 {
			add("postgres.flush_interval must be positive when postgres.dsn is set")
		}
	}
	if cfg.Audit.Path == "" {
		add("audit.path must not be empty")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("log_level %q is invalid; must be one of debug, info, warn, error", cfg.LogLevel)
	}

	if len(errs) == 0 && cfg.Auth.PublicKeyPath != "" {
		if _, err := os.Stat(cfg.Auth.PublicKeyPath); err != nil {
			add("auth.public_key_path: %v", err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ErrNoAuth is returned by callers that require JWT auth to be configured
// but find AuthConfig empty.
var ErrNoAuth = errors.New("config: auth.public_key_path is not configured")
