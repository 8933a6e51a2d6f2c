// Package schema describes which tables and columns hold identifiers, both
// as the host declares them (Mapping) and as the live database reports them
// (Table).
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalidMapping marks a mapping file that cannot be used.
var ErrInvalidMapping = errors.New("invalid mapping")

// DefaultPrimaryKey is used when neither the mapping nor the catalog names one.
const DefaultPrimaryKey = "Id"

// LogicalIdentifier is the only logical type the inspector treats specially.
const LogicalIdentifier = "identifier"

// Mapping is the host's entity-to-table declaration.
type Mapping struct {
	// PrimaryKey overrides DefaultPrimaryKey for every table without its own.
	PrimaryKey string `yaml:"primary_key,omitempty" toml:"primary_key,omitempty"`
	// IncludeUnmappedTables also scans physical tables the mapping does not
	// list, converting their BLOB columns.
	IncludeUnmappedTables bool           `yaml:"include_unmapped_tables,omitempty" toml:"include_unmapped_tables,omitempty"`
	Tables                []TableMapping `yaml:"tables" toml:"tables"`
}

// TableMapping declares one entity table.
type TableMapping struct {
	Name       string          `yaml:"name" toml:"name"`
	PrimaryKey string          `yaml:"primary_key,omitempty" toml:"primary_key,omitempty"`
	Columns    []ColumnMapping `yaml:"columns" toml:"columns"`
	// AlwaysInclude lists columns that hold identifier values without being
	// typed as identifiers, e.g. a relation stored by value.
	AlwaysInclude []string `yaml:"always_include,omitempty" toml:"always_include,omitempty"`
}

// ColumnMapping declares one entity field and its logical type.
type ColumnMapping struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`
}

// IsIdentifier reports whether the field's logical type is identifier.
func (c ColumnMapping) IsIdentifier() bool {
	return strings.EqualFold(strings.TrimSpace(c.Type), LogicalIdentifier)
}

// Table returns the mapping for name, matched case-insensitively as SQLite does.
func (m *Mapping) Table(name string) (TableMapping, bool) {
	for _, t := range m.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TableMapping{}, false
}

// Column returns the field mapped onto column name.
func (t TableMapping) Column(name string) (ColumnMapping, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnMapping{}, false
}

// Validate checks names are present and unique.
func (m *Mapping) Validate() error {
	seen := make(map[string]bool, len(m.Tables))
	for i, t := range m.Tables {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("%w: table %d has no name", ErrInvalidMapping, i)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("%w: table %q declared twice", ErrInvalidMapping, name)
		}
		seen[key] = true
		cols := make(map[string]bool, len(t.Columns))
		for j, c := range t.Columns {
			cn := strings.TrimSpace(c.Name)
			if cn == "" {
				return fmt.Errorf("%w: table %q column %d has no name", ErrInvalidMapping, name, j)
			}
			if cols[strings.ToLower(cn)] {
				return fmt.Errorf("%w: table %q column %q declared twice", ErrInvalidMapping, name, cn)
			}
			cols[strings.ToLower(cn)] = true
		}
		for _, c := range t.AlwaysInclude {
			if strings.TrimSpace(c) == "" {
				return fmt.Errorf("%w: table %q has an empty always_include entry", ErrInvalidMapping, name)
			}
		}
	}
	return nil
}

// LoadMapping reads a YAML (.yaml, .yml) or TOML (.toml) mapping file.
func LoadMapping(path string) (*Mapping, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: mapping path required", ErrInvalidMapping)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	var m Mapping
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidMapping, path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidMapping, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported mapping format %q", ErrInvalidMapping, filepath.Ext(path))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMapping writes m with owner-only permissions, as TOML for a .toml
// path and YAML otherwise.
func SaveMapping(path string, m *Mapping) error {
	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.NewEncoder(&buf).Encode(m); err != nil {
			return fmt.Errorf("marshal mapping: %w", err)
		}
	} else {
		data, err := yaml.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal mapping: %w", err)
		}
		buf.Write(data)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}
	return nil
}
