// Package config loads guidpatch settings from GUIDPATCH_* environment
// variables and turns them into patch options.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/mistakeknot/guidpatch/internal/identifier"
	"github.com/mistakeknot/guidpatch/internal/ledger"
	"github.com/mistakeknot/guidpatch/internal/patch"
	"github.com/mistakeknot/guidpatch/internal/schema"
)

// Config is the full runtime configuration. CLI flags override fields after
// ParseEnv has filled them.
type Config struct {
	DBPath       string `env:"GUIDPATCH_DB_PATH" envDefault:"guidpatch.db"`
	DatabaseType string `env:"GUIDPATCH_DATABASE_TYPE" envDefault:"sqlite"`
	MappingPath  string `env:"GUIDPATCH_MAPPING" envDefault:"guidpatch.yaml"`
	ChunkSize    int    `env:"GUIDPATCH_CHUNK_SIZE" envDefault:"100"`
	Marker       string `env:"GUIDPATCH_MARKER"`

	LedgerTable      string `env:"GUIDPATCH_LEDGER_TABLE" envDefault:"schema_migrations"`
	LedgerColumn     string `env:"GUIDPATCH_LEDGER_COLUMN" envDefault:"name"`
	LedgerTimeColumn string `env:"GUIDPATCH_LEDGER_TIME_COLUMN" envDefault:"applied_at"`

	LogLevel  string `env:"GUIDPATCH_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"GUIDPATCH_LOG_FORMAT" envDefault:"text"`
	LogRows   bool   `env:"GUIDPATCH_LOG_ROWS"`
	ByteOrder string `env:"GUIDPATCH_BYTE_ORDER" envDefault:"mixed"`

	Addr         string `env:"GUIDPATCH_ADDR" envDefault:"127.0.0.1:7338"`
	Socket       string `env:"GUIDPATCH_SOCKET"`
	OTelEndpoint string `env:"GUIDPATCH_OTEL_ENDPOINT"`

	// APIKeys guards /api/* for non-loopback callers: "operator:key,...".
	APIKeys        string `env:"GUIDPATCH_API_KEYS"`
	AllowLocalhost bool   `env:"GUIDPATCH_ALLOW_LOCALHOST" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns a Config filled from the environment and defaults.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Ledger returns the configured history table.
func (c Config) Ledger() ledger.Ledger {
	return ledger.Ledger{Table: c.LedgerTable, IDColumn: c.LedgerColumn, TimeColumn: c.LedgerTimeColumn}
}

// PatchOptions converts c into patch options using logger.
func (c Config) PatchOptions(logger *slog.Logger) (patch.Options, error) {
	order, err := identifier.ParseByteOrder(c.ByteOrder)
	if err != nil {
		return patch.Options{}, err
	}
	if c.ChunkSize < 0 {
		return patch.Options{}, fmt.Errorf("chunk size must not be negative, got %d", c.ChunkSize)
	}
	l := c.Ledger()
	if err := l.Validate(); err != nil {
		return patch.Options{}, err
	}
	return patch.Options{
		DatabaseType: c.DatabaseType,
		ChunkSize:    c.ChunkSize,
		Marker:       c.Marker,
		Ledger:       l,
		ByteOrder:    order,
		Logger:       logger,
		LogRows:      c.LogRows,
	}, nil
}

// NewPatch loads the mapping file and builds the configured patch.
func (c Config) NewPatch(logger *slog.Logger) (*patch.Patch, *schema.Mapping, error) {
	m, err := schema.LoadMapping(c.MappingPath)
	if err != nil {
		return nil, nil, err
	}
	opts, err := c.PatchOptions(logger)
	if err != nil {
		return nil, nil, err
	}
	p, err := patch.New(c.DBPath, m, opts)
	if err != nil {
		return nil, nil, err
	}
	return p, m, nil
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// NewLogger builds the process logger. LogRows forces debug level so the
// per-row lines are not filtered out.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	if c.LogRows && lvl > slog.LevelDebug {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.LogFormat)
	}
}
