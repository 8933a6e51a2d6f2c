// Package cli holds the file-producing helpers behind guidpatch's
// subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mistakeknot/guidpatch/internal/schema"
)

// InitResult reports what InitMapping changed.
type InitResult struct {
	Path        string
	TablesAdded []string
	Existing    int
}

// InitMapping writes a starter mapping for the database behind q. Tables
// already present in the file at path are left as they are; new physical
// tables are appended with BLOB columns typed as identifiers.
func InitMapping(ctx context.Context, q schema.Queryer, path string, exclude ...string) (InitResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return InitResult{}, fmt.Errorf("mapping path required")
	}

	m, err := loadExisting(path)
	if err != nil {
		return InitResult{}, err
	}
	res := InitResult{Path: path, Existing: len(m.Tables)}

	live, err := schema.Inspect(ctx, q, &schema.Mapping{IncludeUnmappedTables: true}, schema.InspectOptions{Exclude: exclude})
	if err != nil {
		return InitResult{}, err
	}
	for _, t := range live {
		if _, ok := m.Table(t.Name); ok {
			continue
		}
		m.Tables = append(m.Tables, starterTable(t))
		res.TablesAdded = append(res.TablesAdded, t.Name)
	}

	if err := schema.SaveMapping(path, m); err != nil {
		return InitResult{}, err
	}
	return res, nil
}

func starterTable(t schema.Table) schema.TableMapping {
	tm := schema.TableMapping{Name: t.Name}
	if t.PrimaryKey != "" && !strings.EqualFold(t.PrimaryKey, schema.DefaultPrimaryKey) {
		tm.PrimaryKey = t.PrimaryKey
	}
	for _, c := range t.Columns {
		typ := strings.ToLower(strings.TrimSpace(c.DeclaredType))
		switch {
		case schema.StorageOf(c.DeclaredType) == schema.StorageBinary:
			typ = schema.LogicalIdentifier
		case typ == "":
			typ = "any"
		}
		tm.Columns = append(tm.Columns, schema.ColumnMapping{Name: c.Name, Type: typ})
	}
	return tm
}

func loadExisting(path string) (*schema.Mapping, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &schema.Mapping{}, nil
		}
		return nil, fmt.Errorf("stat mapping: %w", err)
	}
	return schema.LoadMapping(path)
}
