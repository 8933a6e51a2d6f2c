package patch

import (
	"context"
	"fmt"

	"github.com/mistakeknot/guidpatch/internal/schema"
	"github.com/mistakeknot/guidpatch/internal/storage/sqlite"
)

// ShouldApply reports whether Apply needs to run against db. It never
// writes: a non-SQLite host, an empty database and a database that already
// carries the marker all return false.
func (p *Patch) ShouldApply(ctx context.Context, db sqlite.DB) (bool, error) {
	if !isSQLite(p.opts.DatabaseType) {
		return false, nil
	}
	n, err := schema.UserTableCount(ctx, db)
	if err != nil {
		return false, fmt.Errorf("count tables: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	found, err := p.opts.Ledger.HasMarker(ctx, db, p.opts.Marker)
	if err != nil {
		return false, err
	}
	return !found, nil
}

// Record writes the marker to the ledger. Hosts call it once Apply returns
// without error.
func (p *Patch) Record(ctx context.Context, db sqlite.DB) error {
	return p.opts.Ledger.Record(ctx, db, p.opts.Marker)
}
