// Package ledger reads and writes the host's migration history table, where
// one-time data transformations leave a marker row once they complete.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	DefaultTable    = "schema_migrations"
	DefaultIDColumn = "name"
	// DefaultMarker is the id recorded once identifier columns hold text.
	DefaultMarker = "20230930000000_guid_text_upgrade"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Ledger names the history table and the columns it is keyed and stamped by.
// TimeColumn may be empty for ledgers that only store ids.
type Ledger struct {
	Table      string
	IDColumn   string
	TimeColumn string
}

// Default returns the schema_migrations(name, applied_at) ledger.
func Default() Ledger {
	return Ledger{Table: DefaultTable, IDColumn: DefaultIDColumn, TimeColumn: "applied_at"}
}

// Validate rejects names that cannot be interpolated into SQL safely.
func (l Ledger) Validate() error {
	if !identRe.MatchString(l.Table) {
		return fmt.Errorf("ledger table %q is not a plain identifier", l.Table)
	}
	if !identRe.MatchString(l.IDColumn) {
		return fmt.Errorf("ledger id column %q is not a plain identifier", l.IDColumn)
	}
	if l.TimeColumn != "" && !identRe.MatchString(l.TimeColumn) {
		return fmt.Errorf("ledger time column %q is not a plain identifier", l.TimeColumn)
	}
	return nil
}

type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Exists reports whether the ledger table has been created.
func (l Ledger) Exists(ctx context.Context, db execQueryer) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`, l.Table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check ledger table: %w", err)
	}
	return n > 0, nil
}

// HasMarker looks up marker by primary key. A missing ledger table means
// nothing has been recorded yet.
func (l Ledger) HasMarker(ctx context.Context, db execQueryer, marker string) (bool, error) {
	if err := l.Validate(); err != nil {
		return false, err
	}
	exists, err := l.Exists(ctx, db)
	if err != nil || !exists {
		return false, err
	}
	var found int
	err = db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %q WHERE %q = ?`, l.Table, l.IDColumn), marker,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup marker %q: %w", marker, err)
	}
	return true, nil
}

// Ensure creates the ledger table when absent.
func (l Ledger) Ensure(ctx context.Context, db execQueryer) error {
	if err := l.Validate(); err != nil {
		return err
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (%q TEXT NOT NULL PRIMARY KEY`, l.Table, l.IDColumn)
	if l.TimeColumn != "" {
		ddl += fmt.Sprintf(`, %q INTEGER NOT NULL`, l.TimeColumn)
	}
	ddl += ")"
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ledger table: %w", err)
	}
	return nil
}

// Record appends marker if it is not already present.
func (l Ledger) Record(ctx context.Context, db execQueryer, marker string) error {
	if err := l.Ensure(ctx, db); err != nil {
		return err
	}
	var err error
	if l.TimeColumn != "" {
		_, err = db.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %q (%q, %q) VALUES (?, ?)`, l.Table, l.IDColumn, l.TimeColumn),
			marker, time.Now().UTC().UnixMilli(),
		)
	} else {
		_, err = db.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %q (%q) VALUES (?)`, l.Table, l.IDColumn),
			marker,
		)
	}
	if err != nil {
		return fmt.Errorf("record marker %q: %w", marker, err)
	}
	return nil
}
