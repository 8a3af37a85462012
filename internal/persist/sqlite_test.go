package persist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrageur/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})            {}
func (nopLogger) Info(string, ...interface{})             {}
func (nopLogger) Warn(string, ...interface{})             {}
func (nopLogger) Error(string, ...interface{})            {}
func (nopLogger) Fatal(string, ...interface{})            {}
func (l nopLogger) WithField(string, interface{}) core.ILogger { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewSQLiteStore(dbPath, nopLogger{})
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStartEnablesWALAndSchema(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	for _, table := range []string{
		"fcf_autotrageur_config", "fcf_session", "fcf_measures",
		"fcf_state", "trade_opportunity", "trades", "forex_rate",
	} {
		rows, err := store.Query(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		require.NoError(t, err)
		assert.Len(t, rows, 1, table)
	}
}

func TestInsertRowIsBufferedUntilCommit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.InsertRow("forex_rate", map[string]any{
		"id":              "rate-1",
		"quote":           "KRW",
		"rate":            "1300.5",
		"local_timestamp": int64(1700000000),
	}, []string{"id"})

	rows, err := store.Query(ctx, "SELECT id FROM forex_rate")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, store.CommitAll(ctx))

	rows, err = store.Query(ctx, "SELECT id, quote, rate FROM forex_rate WHERE id = ?", "rate-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "KRW", rows[0]["quote"])
	assert.Equal(t, "1300.5", rows[0]["rate"])
}

func TestInsertRowIsIdempotentOnPrimaryKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row := map[string]any{
		"id":                                 "session-1",
		"autotrageur_config_id":              "cfg-1",
		"autotrageur_config_start_timestamp": int64(1700000000),
		"start_timestamp":                    int64(1700000000),
		"stop_timestamp":                     nil,
	}
	store.InsertRow("fcf_session", row, []string{"id"})
	require.NoError(t, store.CommitAll(ctx))

	row["stop_timestamp"] = int64(1700003600)
	store.InsertRow("fcf_session", row, []string{"id"})
	require.NoError(t, store.CommitAll(ctx))

	rows, err := store.Query(ctx, "SELECT stop_timestamp FROM fcf_session WHERE id = ?", "session-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1700003600, rows[0]["stop_timestamp"])
}

func TestTradesUseCompositePrimaryKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, side := range []string{"buy", "sell"} {
		store.InsertRow("trades", map[string]any{
			"trade_opportunity_id": "opp-1",
			"side":                 side,
			"exchange":             "gemini",
			"base":                 "ETH",
			"quote":                "USD",
			"price":                "3000",
			"time":                 int64(1700000000),
		}, []string{"trade_opportunity_id", "side"})
	}
	require.NoError(t, store.CommitAll(ctx))

	rows, err := store.Query(ctx,
		"SELECT side FROM trades WHERE trade_opportunity_id = ? ORDER BY side", "opp-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "buy", rows[0]["side"])
	assert.Equal(t, "sell", rows[1]["side"])
}

func TestCommitAllFlushesBufferOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.InsertRow("forex_rate", map[string]any{
		"id":              "rate-1",
		"quote":           "EUR",
		"rate":            "0.92",
		"local_timestamp": int64(1700000000),
	}, []string{"id"})
	require.NoError(t, store.CommitAll(ctx))

	// Buffer is drained, the second commit is a no-op.
	require.NoError(t, store.CommitAll(ctx))

	rows, err := store.Query(ctx, "SELECT COUNT(*) AS n FROM forex_rate")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["n"])
}

func TestCheckpointBlobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blob := []byte(`{"kind":"fcf_checkpoint","checksum":"abc","payload":{}}`)
	store.InsertRow("fcf_state", map[string]any{
		"id":                                 "resume-1",
		"autotrageur_config_id":              "cfg-1",
		"autotrageur_config_start_timestamp": int64(1700000000),
		"state":                              blob,
	}, []string{"id"})
	require.NoError(t, store.CommitAll(ctx))

	rows, err := store.Query(ctx, "SELECT state FROM fcf_state WHERE id = ?", "resume-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(blob), rows[0]["state"])
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
