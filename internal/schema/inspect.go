package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Storage is the storage class implied by a column's declared type.
type Storage int

const (
	StorageOther Storage = iota
	StorageText
	StorageBinary
)

func (s Storage) String() string {
	switch s {
	case StorageText:
		return "text"
	case StorageBinary:
		return "binary"
	default:
		return "other"
	}
}

// StorageOf follows SQLite's type affinity rules for the two classes that
// matter here.
func StorageOf(declared string) Storage {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "BLOB"):
		return StorageBinary
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return StorageText
	default:
		return StorageOther
	}
}

// Column is one physical column plus what the mapping says about it.
type Column struct {
	Name         string `yaml:"name"`
	DeclaredType string `yaml:"declared_type"`
	Storage      string `yaml:"storage"`
	NotNull      bool   `yaml:"not_null"`
	PrimaryKey   bool   `yaml:"primary_key,omitempty"`
	Mapped       bool   `yaml:"mapped"`
	Identifier   bool   `yaml:"identifier"`
}

// Table is one physical table and the columns that need conversion.
// KeyColumns lists the declared primary key columns in key order.
type Table struct {
	Name              string   `yaml:"name"`
	PrimaryKey        string   `yaml:"primary_key"`
	WithoutRowID      bool     `yaml:"without_rowid,omitempty"`
	KeyColumns        []string `yaml:"key_columns,omitempty"`
	Columns           []Column `yaml:"columns"`
	IdentifierColumns []string `yaml:"identifier_columns"`
}

// NotNull returns column name -> declared NOT NULL.
func (t Table) NotNull() map[string]bool {
	out := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		out[c.Name] = c.NotNull
	}
	return out
}

// HasColumn reports whether the table physically has name.
func (t Table) HasColumn(name string) bool {
	_, ok := t.column(name)
	return ok
}

func (t Table) column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// InspectOptions tunes Inspect.
type InspectOptions struct {
	// Exclude lists tables that are never data tables (the ledger).
	Exclude []string
	Logger  *slog.Logger
}

type physicalTable struct {
	name         string
	withoutRowID bool
}

// Inspect reads the live catalog and returns, in mapping declaration order,
// every mapped table that physically exists. Mapped tables missing from the
// database are skipped.
func Inspect(ctx context.Context, q Queryer, m *Mapping, opts InspectOptions) ([]Table, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = &Mapping{}
	}
	physical, err := listTables(ctx, q)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		excluded[strings.ToLower(name)] = true
	}
	byName := make(map[string]physicalTable, len(physical))
	for _, p := range physical {
		if excluded[strings.ToLower(p.name)] {
			continue
		}
		byName[strings.ToLower(p.name)] = p
	}

	var out []Table
	seen := make(map[string]bool)
	for _, tm := range m.Tables {
		p, ok := byName[strings.ToLower(tm.Name)]
		if !ok {
			logger.Debug("mapped table not in database", "table", tm.Name)
			continue
		}
		seen[strings.ToLower(p.name)] = true
		t, err := describe(ctx, q, p, &tm, m.PrimaryKey, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	if m.IncludeUnmappedTables {
		var rest []physicalTable
		for key, p := range byName {
			if !seen[key] {
				rest = append(rest, p)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].name < rest[j].name })
		for _, p := range rest {
			t, err := describe(ctx, q, p, nil, m.PrimaryKey, logger)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// UserTableCount returns how many non-internal tables exist.
func UserTableCount(ctx context.Context, q Queryer) (int, error) {
	tables, err := listTables(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(tables), nil
}

// TableExists reports whether name is a table in the main schema.
func TableExists(ctx context.Context, q Queryer, name string) (bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`, name)
	if err != nil {
		return false, fmt.Errorf("lookup table %q: %w", name, err)
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("lookup table %q: %w", name, err)
	}
	return found, nil
}

func listTables(ctx context.Context, q Queryer) ([]physicalTable, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, COALESCE(sql, '') FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []physicalTable
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, physicalTable{
			name:         name,
			withoutRowID: strings.Contains(strings.ToUpper(ddl), "WITHOUT ROWID"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return out, nil
}

type tableInfoColumn struct {
	name     string
	declared string
	notNull  bool
	pk       int
}

func tableInfo(ctx context.Context, q Queryer, table string) ([]tableInfoColumn, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", table, err)
	}
	defer rows.Close()

	var out []tableInfoColumn
	for rows.Next() {
		var (
			c       tableInfoColumn
			notNull int
		)
		if err := rows.Scan(&c.name, &c.declared, &notNull, &c.pk); err != nil {
			return nil, fmt.Errorf("scan table info %q: %w", table, err)
		}
		c.notNull = notNull != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table info %q: %w", table, err)
	}
	return out, nil
}

// describe builds the descriptor for one table. tm is nil for unmapped
// tables, which only get their orphaned BLOB columns converted.
func describe(ctx context.Context, q Queryer, p physicalTable, tm *TableMapping, defaultPK string, logger *slog.Logger) (Table, error) {
	info, err := tableInfo(ctx, q, p.name)
	if err != nil {
		return Table{}, err
	}
	t := Table{Name: p.name, WithoutRowID: p.withoutRowID}

	physicalPK := ""
	var keys []tableInfoColumn
	for _, c := range info {
		col := Column{
			Name:         c.name,
			DeclaredType: c.declared,
			Storage:      StorageOf(c.declared).String(),
			NotNull:      c.notNull,
			PrimaryKey:   c.pk > 0,
		}
		if c.pk > 0 {
			keys = append(keys, c)
		}
		if tm != nil {
			if fm, ok := tm.Column(c.name); ok {
				col.Mapped = true
				col.Identifier = fm.IsIdentifier()
			}
		}
		t.Columns = append(t.Columns, col)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].pk < keys[j].pk })
	for _, k := range keys {
		t.KeyColumns = append(t.KeyColumns, k.name)
	}
	if len(keys) > 0 {
		physicalPK = keys[0].name
	}
	t.PrimaryKey = resolvePrimaryKey(t, tm, defaultPK, physicalPK)

	for _, c := range t.Columns {
		orphanedBinary := !c.Mapped && StorageOf(c.DeclaredType) == StorageBinary
		if orphanedBinary || c.Identifier {
			t.IdentifierColumns = append(t.IdentifierColumns, c.Name)
		}
	}
	if tm == nil {
		return t, nil
	}

	for _, fm := range tm.Columns {
		if fm.IsIdentifier() && !t.HasColumn(fm.Name) {
			logger.Warn("mapped identifier column not in database", "table", t.Name, "column", fm.Name)
		}
	}
	for _, name := range tm.AlwaysInclude {
		c, ok := t.column(name)
		if !ok {
			logger.Warn("always_include column not in database", "table", t.Name, "column", name)
			continue
		}
		if !containsFold(t.IdentifierColumns, c.Name) {
			t.IdentifierColumns = append(t.IdentifierColumns, c.Name)
		}
	}
	return t, nil
}

func resolvePrimaryKey(t Table, tm *TableMapping, defaultPK, physicalPK string) string {
	candidates := []string{}
	if tm != nil {
		candidates = append(candidates, tm.PrimaryKey)
	}
	candidates = append(candidates, defaultPK, physicalPK, DefaultPrimaryKey)
	for _, name := range candidates {
		if name == "" {
			continue
		}
		if c, ok := t.column(name); ok {
			return c.Name
		}
	}
	return ""
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
