// Package patch rewrites identifier columns stored as 16-byte blobs into
// canonical uppercase text, in place, one chunk transaction at a time.
//
// A host calls ShouldApply on every start. When it reports true the host
// calls Apply before opening any listener, then Record to leave the ledger
// marker that makes later ShouldApply calls return false.
package patch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mistakeknot/guidpatch/internal/convert"
	"github.com/mistakeknot/guidpatch/internal/identifier"
	"github.com/mistakeknot/guidpatch/internal/ledger"
	"github.com/mistakeknot/guidpatch/internal/schema"
	"github.com/mistakeknot/guidpatch/internal/storage/sqlite"
)

// DefaultChunkSize is the number of rows read and committed per transaction.
const DefaultChunkSize = 100

const tracerName = "github.com/mistakeknot/guidpatch/internal/patch"

// ErrUnsupportedDatabase is returned by Apply when the host database is not
// SQLite; only SQLite stored identifiers as blobs.
var ErrUnsupportedDatabase = errors.New("unsupported database type")

// Options configure a Patch. Zero values fall back to defaults.
type Options struct {
	// DatabaseType is the host's storage engine name ("sqlite").
	DatabaseType string
	ChunkSize    int
	Marker       string
	Ledger       ledger.Ledger
	ByteOrder    identifier.ByteOrder
	Logger       *slog.Logger
	// LogRows emits a debug line per row and per chunk. Off by default
	// because large tables produce one line per row.
	LogRows bool
	Retry   sqlite.RetryConfig
}

// Patch is one configured identifier migration over one database file.
type Patch struct {
	path    string
	mapping *schema.Mapping
	opts    Options
	conv    convert.Converter
	logger  *slog.Logger
	tracer  trace.Tracer

	// beforeCommit runs inside each chunk transaction just before commit.
	beforeCommit func(table string, chunk int) error
}

// New validates opts and returns a Patch for the database at path.
func New(path string, mapping *schema.Mapping, opts Options) (*Patch, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path required")
	}
	if mapping == nil {
		return nil, fmt.Errorf("%w: mapping required", schema.ErrInvalidMapping)
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if opts.DatabaseType == "" {
		opts.DatabaseType = "sqlite"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Marker == "" {
		opts.Marker = ledger.DefaultMarker
	}
	if opts.Ledger.Table == "" {
		opts.Ledger = ledger.Default()
	}
	if err := opts.Ledger.Validate(); err != nil {
		return nil, err
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = sqlite.DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Patch{
		path:    path,
		mapping: mapping,
		opts:    opts,
		conv:    convert.Converter{Order: opts.ByteOrder},
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Marker returns the ledger id this patch records.
func (p *Patch) Marker() string { return p.opts.Marker }

// Ledger returns the ledger the marker is recorded in.
func (p *Patch) Ledger() ledger.Ledger { return p.opts.Ledger }

func isSQLite(dbType string) bool {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "sqlite", "sqlite3":
		return true
	default:
		return false
	}
}
