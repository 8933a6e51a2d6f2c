package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mistakeknot/guidpatch/internal/identifier"
	"github.com/mistakeknot/guidpatch/internal/ledger"
	"github.com/mistakeknot/guidpatch/internal/observability"
	"github.com/mistakeknot/guidpatch/internal/patch"
	"github.com/mistakeknot/guidpatch/internal/schema"
	"github.com/mistakeknot/guidpatch/internal/storage/sqlite"
)

// Mapping types are re-exported so hosts can build a mapping in code.
type (
	Mapping       = schema.Mapping
	TableMapping  = schema.TableMapping
	ColumnMapping = schema.ColumnMapping
	Report        = patch.Report
)

// LoadMapping reads a YAML or TOML mapping file.
func LoadMapping(path string) (*Mapping, error) {
	return schema.LoadMapping(path)
}

// GateConfig configures RunStartupGate. Zero values fall back to defaults.
type GateConfig struct {
	// DBPath is the SQLite database file. Required.
	DBPath string
	// DatabaseType is the host's storage engine; anything but "sqlite"
	// makes the gate a no-op. Empty means "sqlite".
	DatabaseType string
	ChunkSize    int
	Marker       string

	LedgerTable      string
	LedgerColumn     string
	LedgerTimeColumn string

	// ByteOrder is "mixed" (default) or "rfc4122".
	ByteOrder string
	Logger    *slog.Logger
	LogRows   bool

	// Force runs the migration even when the gate says it is not needed.
	Force bool
	// NoRecord leaves the ledger untouched after a successful run.
	NoRecord bool
}

// GateResult is what RunStartupGate did.
type GateResult struct {
	Needed   bool
	Applied  bool
	Recorded bool
	Marker   string
	Report   *Report
	Elapsed  time.Duration
}

func (c GateConfig) options() (patch.Options, error) {
	order, err := identifier.ParseByteOrder(c.ByteOrder)
	if err != nil {
		return patch.Options{}, err
	}
	opts := patch.Options{
		DatabaseType: c.DatabaseType,
		ChunkSize:    c.ChunkSize,
		Marker:       c.Marker,
		ByteOrder:    order,
		Logger:       c.Logger,
		LogRows:      c.LogRows,
	}
	if c.LedgerTable != "" {
		opts.Ledger = ledger.Ledger{Table: c.LedgerTable, IDColumn: c.LedgerColumn, TimeColumn: c.LedgerTimeColumn}
		if opts.Ledger.IDColumn == "" {
			opts.Ledger.IDColumn = ledger.DefaultIDColumn
		}
	}
	return opts, nil
}

// RunStartupGate is the host's one call at startup, before any listener
// opens: it checks the ledger, runs the identifier migration when needed
// and records the marker once the migration succeeded.
//
// An error means the database may be partially converted; the host must
// not start. Running the gate again starts over from the first table;
// rows the failed run already converted come through unchanged.
func RunStartupGate(ctx context.Context, cfg GateConfig, mapping *Mapping) (GateResult, error) {
	start := time.Now()
	opts, err := cfg.options()
	if err != nil {
		return GateResult{}, err
	}
	p, err := patch.New(cfg.DBPath, mapping, opts)
	if err != nil {
		return GateResult{}, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res := GateResult{Marker: p.Marker()}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return res, fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	res.Needed, err = p.ShouldApply(ctx, store.Handle())
	if err != nil {
		return res, fmt.Errorf("check ledger: %w", err)
	}
	if !res.Needed && !cfg.Force {
		observability.RunsTotal.WithLabelValues("skipped").Inc()
		logger.InfoContext(ctx, "identifier migration not needed", "marker", res.Marker)
		res.Elapsed = time.Since(start)
		return res, nil
	}

	logger.InfoContext(ctx, "applying identifier migration",
		"db", cfg.DBPath, "marker", res.Marker, "forced", cfg.Force && !res.Needed)
	res.Report, err = p.Apply(ctx)
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, err
	}
	res.Applied = true

	if cfg.NoRecord {
		return res, nil
	}
	if err := p.Record(ctx, store.Handle()); err != nil {
		return res, fmt.Errorf("record marker: %w", err)
	}
	res.Recorded = true
	return res, nil
}
