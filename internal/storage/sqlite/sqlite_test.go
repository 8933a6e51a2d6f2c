package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewEnablesForeignKeys(t *testing.T) {
	st := NewSQLiteTest(t)
	on, err := st.ForeignKeysEnabled()
	if err != nil {
		t.Fatalf("foreign keys: %v", err)
	}
	if !on {
		t.Fatalf("expected foreign keys on for host connection")
	}
}

func TestNewMigrationDisablesForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "game.db")
	host, err := New(path)
	if err != nil {
		t.Fatalf("open host: %v", err)
	}
	defer host.Close()

	mig, err := NewMigration(path, nil)
	if err != nil {
		t.Fatalf("open migration: %v", err)
	}
	defer mig.Close()

	on, err := mig.ForeignKeysEnabled()
	if err != nil {
		t.Fatalf("foreign keys: %v", err)
	}
	if on {
		t.Fatalf("expected foreign keys off for migration connection")
	}
	if mig.Path() != path {
		t.Fatalf("expected path %q, got %q", path, mig.Path())
	}
}

func TestMigrationConnectionSeesHostWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.db")
	host, err := New(path)
	if err != nil {
		t.Fatalf("open host: %v", err)
	}
	defer host.Close()
	if _, err := host.DB().Exec(`CREATE TABLE t (id TEXT PRIMARY KEY); INSERT INTO t VALUES ('a')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mig, err := NewMigration(path, nil)
	if err != nil {
		t.Fatalf("open migration: %v", err)
	}
	defer mig.Close()

	var n int
	if err := mig.Handle().QueryRowContext(context.Background(), `SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestOpenRejectsEmptyAndDirectoryPaths(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := New(t.TempDir()); err == nil {
		t.Fatalf("expected error for directory path")
	}
}

func TestInMemoryStore(t *testing.T) {
	st, err := NewInMemory()
	if err != nil {
		t.Fatalf("in memory: %v", err)
	}
	defer st.Close()
	if _, err := st.DB().Exec(`CREATE TABLE t (x)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	on, err := st.ForeignKeysEnabled()
	if err != nil || !on {
		t.Fatalf("expected foreign keys on, got %v %v", on, err)
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN("/tmp/x.db", Options{ForeignKeys: false, BusyTimeout: 2 * time.Second})
	if !strings.HasPrefix(dsn, "file:/tmp/x.db?") {
		t.Fatalf("unexpected dsn prefix: %s", dsn)
	}
	if !strings.Contains(dsn, "foreign_keys%280%29") || !strings.Contains(dsn, "busy_timeout%282000%29") {
		t.Fatalf("expected encoded pragmas in %s", dsn)
	}
}

func TestTruncateQuery(t *testing.T) {
	long := strings.Repeat("x", 250)
	if got := truncateQuery(long); len(got) != 203 {
		t.Fatalf("expected truncated query of 203 chars, got %d", len(got))
	}
	if got := truncateQuery("SELECT 1"); got != "SELECT 1" {
		t.Fatalf("short query changed: %q", got)
	}
}

func TestOpenExistingRequiresFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo", "game.db")
	if _, err := OpenExisting(path); !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("expected ErrNoDatabase, got %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no directory to be created, got %v", err)
	}
}

func TestOpenExistingRefusesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.db")
	host, err := New(path)
	if err != nil {
		t.Fatalf("open host: %v", err)
	}
	if _, err := host.DB().Exec(`CREATE TABLE t (id TEXT PRIMARY KEY); INSERT INTO t VALUES ('a')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	host.Close()

	ro, err := OpenExisting(path)
	if err != nil {
		t.Fatalf("open existing: %v", err)
	}
	defer ro.Close()
	var n int
	if err := ro.DB().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", n, err)
	}
	if _, err := ro.DB().Exec(`INSERT INTO t VALUES ('b')`); err == nil {
		t.Fatalf("expected write to fail on read-only store")
	}
}
