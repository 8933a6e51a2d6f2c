package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mistakeknot/guidpatch/internal/identifier"
)

type envTestConfig struct {
	Size int `env:"GUIDPATCH_TEST_SIZE" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Size != 123 {
		t.Fatalf("expected default size 123, got %d", cfg.Size)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("GUIDPATCH_TEST_SIZE", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 100, cfg.ChunkSize)
	assert.Equal(t, "mixed", cfg.ByteOrder)
	assert.Equal(t, "schema_migrations", cfg.Ledger().Table)
	assert.False(t, cfg.LogRows)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GUIDPATCH_DB_PATH", "/var/lib/game/game.db")
	t.Setenv("GUIDPATCH_CHUNK_SIZE", "500")
	t.Setenv("GUIDPATCH_BYTE_ORDER", "rfc4122")
	t.Setenv("GUIDPATCH_LEDGER_TABLE", "__history")
	t.Setenv("GUIDPATCH_LOG_ROWS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/game/game.db", cfg.DBPath)

	opts, err := cfg.PatchOptions(slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 500, opts.ChunkSize)
	assert.Equal(t, identifier.RFC4122, opts.ByteOrder)
	assert.Equal(t, "__history", opts.Ledger.Table)
	assert.True(t, opts.LogRows)
}

func TestPatchOptionsRejectsBadValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.ByteOrder = "middle"
	_, err = bad.PatchOptions(nil)
	assert.Error(t, err)

	bad = cfg
	bad.LedgerTable = "x; DROP TABLE y"
	_, err = bad.PatchOptions(nil)
	assert.Error(t, err)

	bad = cfg
	bad.ChunkSize = -1
	_, err = bad.PatchOptions(nil)
	assert.Error(t, err)
}

func TestNewPatchLoadsMapping(t *testing.T) {
	dir := t.TempDir()
	mapping := filepath.Join(dir, "m.toml")
	require.NoError(t, os.WriteFile(mapping, []byte(`
[[tables]]
name = "Players"
always_include = ["DbGuildId"]
`), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	cfg.DBPath = filepath.Join(dir, "game.db")
	cfg.MappingPath = mapping

	p, m, err := cfg.NewPatch(slog.Default())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, m.Tables, 1)
	assert.Equal(t, []string{"DbGuildId"}, m.Tables[0].AlwaysInclude)

	cfg.MappingPath = filepath.Join(dir, "missing.yaml")
	_, _, err = cfg.NewPatch(slog.Default())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	cfg = Config{LogLevel: "info", LogRows: true}
	logger, err = cfg.NewLogger(&buf)
	require.NoError(t, err)
	logger.Debug("row")
	assert.Contains(t, buf.String(), "msg=row")

	_, err = Config{LogLevel: "loud"}.NewLogger(&buf)
	assert.Error(t, err)
	_, err = Config{LogLevel: "info", LogFormat: "xml"}.NewLogger(&buf)
	assert.Error(t, err)
}
