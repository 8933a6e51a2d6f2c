package embedded

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mistakeknot/guidpatch/internal/identifier"
	"github.com/mistakeknot/guidpatch/internal/storage/sqlite"
)

func playersMapping() *Mapping {
	return &Mapping{Tables: []TableMapping{{
		Name:          "Players",
		Columns:       []ColumnMapping{{Name: "Id", Type: "identifier"}, {Name: "Name", Type: "text"}, {Name: "DbGuildId", Type: "text"}},
		AlwaysInclude: []string{"DbGuildId"},
	}}}
}

func seedPlayers(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.db")
	st, err := sqlite.New(path)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.DB().Exec(`CREATE TABLE Players (Id BLOB NOT NULL PRIMARY KEY, Name TEXT NOT NULL, DbGuildId BLOB NULL)`)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err = st.DB().Exec(`INSERT INTO Players VALUES (?, 'p', ?)`,
			identifier.New().Bytes(identifier.Mixed), make([]byte, 16))
		require.NoError(t, err)
	}
	return path
}

func countBlobs(t *testing.T, path string) int {
	t.Helper()
	st, err := sqlite.New(path)
	require.NoError(t, err)
	defer st.Close()
	var n int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM Players WHERE typeof(Id) = 'blob' OR typeof(DbGuildId) = 'blob'`).Scan(&n))
	return n
}

func gateConfig(path string) GateConfig {
	return GateConfig{DBPath: path, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestRunStartupGateAppliesOnceThenSkips(t *testing.T) {
	ctx := context.Background()
	path := seedPlayers(t, 150)

	res, err := RunStartupGate(ctx, gateConfig(path), playersMapping())
	require.NoError(t, err)
	assert.True(t, res.Needed)
	assert.True(t, res.Applied)
	assert.True(t, res.Recorded)
	require.NotNil(t, res.Report)
	assert.Equal(t, 150, res.Report.Updated())
	assert.Zero(t, countBlobs(t, path))

	res, err = RunStartupGate(ctx, gateConfig(path), playersMapping())
	require.NoError(t, err)
	assert.False(t, res.Needed)
	assert.False(t, res.Applied)
	assert.Nil(t, res.Report)
}

func TestRunStartupGateEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	res, err := RunStartupGate(context.Background(), gateConfig(path), playersMapping())
	require.NoError(t, err)
	assert.False(t, res.Needed)
	assert.False(t, res.Applied)
}

func TestRunStartupGateOtherEngineIsNoOp(t *testing.T) {
	path := seedPlayers(t, 3)
	cfg := gateConfig(path)
	cfg.DatabaseType = "mysql"
	res, err := RunStartupGate(context.Background(), cfg, playersMapping())
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 3, countBlobs(t, path))
}

func TestRunStartupGateNoRecordAndForce(t *testing.T) {
	ctx := context.Background()
	path := seedPlayers(t, 2)

	cfg := gateConfig(path)
	cfg.NoRecord = true
	res, err := RunStartupGate(ctx, cfg, playersMapping())
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.Recorded)

	// Without the marker the gate still reports work; the rerun is a no-op.
	cfg.NoRecord = false
	res, err = RunStartupGate(ctx, cfg, playersMapping())
	require.NoError(t, err)
	assert.True(t, res.Needed)
	assert.Zero(t, res.Report.Updated())

	cfg.Force = true
	res, err = RunStartupGate(ctx, cfg, playersMapping())
	require.NoError(t, err)
	assert.False(t, res.Needed)
	assert.True(t, res.Applied)
}

func TestRunStartupGateCustomLedger(t *testing.T) {
	path := seedPlayers(t, 1)
	cfg := gateConfig(path)
	cfg.LedgerTable = "__EFMigrationsHistory"
	cfg.LedgerColumn = "MigrationId"
	cfg.Marker = "20230930000000_Net7Upgrade"

	_, err := RunStartupGate(context.Background(), cfg, playersMapping())
	require.NoError(t, err)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var id string
	require.NoError(t, db.QueryRow(`SELECT MigrationId FROM __EFMigrationsHistory`).Scan(&id))
	assert.Equal(t, "20230930000000_Net7Upgrade", id)
}

func TestRunStartupGateRejectsBadConfig(t *testing.T) {
	path := seedPlayers(t, 1)
	cfg := gateConfig(path)
	cfg.ByteOrder = "sideways"
	_, err := RunStartupGate(context.Background(), cfg, playersMapping())
	assert.Error(t, err)

	_, err = RunStartupGate(context.Background(), gateConfig(path), nil)
	assert.Error(t, err)
}
