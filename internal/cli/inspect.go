package cli

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/mistakeknot/guidpatch/internal/schema"
)

type inspectDoc struct {
	Tables []schema.Table `yaml:"tables"`
}

// WriteTables renders inspected tables as YAML.
func WriteTables(w io.Writer, tables []schema.Table) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(inspectDoc{Tables: tables}); err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	return enc.Close()
}
