package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// ErrNoDatabase is returned by read-only opens when the file is missing.
var ErrNoDatabase = errors.New("database file does not exist")

// Options control how a database file is opened.
type Options struct {
	// ForeignKeys turns on referential-integrity enforcement.
	ForeignKeys bool
	// ReadOnly refuses writes and requires the file to exist already.
	ReadOnly bool
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration
	// SlowQuery is the threshold for slow query log lines; 0 uses the default.
	SlowQuery time.Duration
	Logger    *slog.Logger
}

// Store is an open database plus the query-logging handle used for reads.
type Store struct {
	path string
	db   *sql.DB
	h    *queryLogger
}

// New opens the host's database with foreign keys enforced.
func New(path string) (*Store, error) {
	return Open(path, Options{ForeignKeys: true})
}

// NewMigration opens a dedicated single connection with foreign keys off,
// for rewriting rows in place.
func NewMigration(path string, logger *slog.Logger) (*Store, error) {
	return Open(path, Options{ForeignKeys: false, Logger: logger})
}

// OpenExisting opens an existing database for reading only. Nothing is
// created when path is missing.
func OpenExisting(path string) (*Store, error) {
	return Open(path, Options{ForeignKeys: true, ReadOnly: true})
}

// NewInMemory opens a private in-memory database. All access goes through
// one connection because each :memory: connection is its own database.
func NewInMemory() (*Store, error) {
	return open(":memory:", ":memory:", Options{ForeignKeys: true})
}

// Open opens path with opts. The directory is created when missing unless
// opts.ReadOnly is set.
func Open(path string, opts Options) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if path == ":memory:" {
		return open(path, path, opts)
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("db path %q is a directory", path)
	case opts.ReadOnly && errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNoDatabase, path)
	case opts.ReadOnly && err != nil:
		return nil, fmt.Errorf("stat db: %w", err)
	case opts.ReadOnly:
		return open(path, DSN(path, opts), opts)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(path, DSN(path, opts), opts)
}

func open(path, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %q: %w", path, err)
	}
	if path == ":memory:" {
		fk := 0
		if opts.ForeignKeys {
			fk = 1
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA foreign_keys = %d", fk)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set foreign_keys: %w", err)
		}
	}
	return &Store{
		path: path,
		db:   db,
		h:    newQueryLogger(db, opts.SlowQuery, opts.Logger),
	}, nil
}

// DSN builds a modernc.org/sqlite connection string for path.
func DSN(path string, opts Options) string {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	fk := 0
	if opts.ForeignKeys {
		fk = 1
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("foreign_keys(%d)", fk))
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	if opts.ReadOnly {
		q.Add("_pragma", "query_only(1)")
	}
	return "file:" + path + "?" + q.Encode()
}

// DB returns the raw pool.
func (s *Store) DB() *sql.DB { return s.db }

// Handle returns the slow-query-logging handle.
func (s *Store) Handle() DB { return s.h }

// Path returns the file the store was opened on.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// ForeignKeysEnabled reads the live pragma.
func (s *Store) ForeignKeysEnabled() (bool, error) {
	var on int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		return false, fmt.Errorf("read foreign_keys: %w", err)
	}
	return on == 1, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
