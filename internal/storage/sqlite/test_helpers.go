package sqlite

import (
	"path/filepath"
	"testing"
)

// NewSQLiteTest opens a file-backed store under t.TempDir. Migration tests
// need a file because the migration opens its own second connection.
func NewSQLiteTest(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
