// Package persist implements core.Store on SQLite. Rows are buffered in
// memory by InsertRow and flushed in a single transaction by CommitAll,
// so a poll either lands completely or not at all.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"autotrageur/internal/core"
)

// Schema bootstrap, applied on Start. Decimal values are stored as TEXT
// to avoid float drift; timestamps are unix seconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS fcf_autotrageur_config (
		id TEXT NOT NULL,
		start_timestamp INTEGER NOT NULL,
		config TEXT NOT NULL,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS fcf_session (
		id TEXT NOT NULL,
		autotrageur_config_id TEXT NOT NULL,
		autotrageur_config_start_timestamp INTEGER NOT NULL,
		start_timestamp INTEGER NOT NULL,
		stop_timestamp INTEGER,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS fcf_measures (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		e1_spread TEXT,
		e2_spread TEXT,
		e1_buy TEXT,
		e1_sell TEXT,
		e2_buy TEXT,
		e2_sell TEXT,
		time INTEGER NOT NULL,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS fcf_state (
		id TEXT NOT NULL,
		autotrageur_config_id TEXT NOT NULL,
		autotrageur_config_start_timestamp INTEGER NOT NULL,
		state BLOB NOT NULL,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS trade_opportunity (
		id TEXT NOT NULL,
		e1_spread TEXT,
		e2_spread TEXT,
		e1_buy TEXT,
		e1_sell TEXT,
		e2_buy TEXT,
		e2_sell TEXT,
		e1_forex_rate_id TEXT,
		e2_forex_rate_id TEXT,
		time INTEGER NOT NULL,
		PRIMARY KEY (id)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		trade_opportunity_id TEXT NOT NULL,
		side TEXT NOT NULL,
		exchange TEXT NOT NULL,
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		price TEXT,
		pre_fee_base TEXT,
		pre_fee_quote TEXT,
		post_fee_base TEXT,
		post_fee_quote TEXT,
		time INTEGER NOT NULL,
		PRIMARY KEY (trade_opportunity_id, side)
	)`,
	`CREATE TABLE IF NOT EXISTS forex_rate (
		id TEXT NOT NULL,
		quote TEXT NOT NULL,
		rate TEXT NOT NULL,
		local_timestamp INTEGER NOT NULL,
		PRIMARY KEY (id)
	)`,
}

type pendingRow struct {
	table  string
	row    map[string]any
	pkCols []string
}

// SQLiteStore buffers inserts and flushes them transactionally.
type SQLiteStore struct {
	dbPath string
	logger core.ILogger

	mu      sync.Mutex
	db      *sql.DB
	pending []pendingRow
}

// NewSQLiteStore prepares a store against the given database file. The
// connection is not opened until Start.
func NewSQLiteStore(dbPath string, logger core.ILogger) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath, logger: logger}
}

// Start opens the database, enables WAL mode for crash recovery and
// bootstraps the schema.
func (s *SQLiteStore) Start(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.logger.Info("store started", "db_path", s.dbPath)
	return nil
}

// InsertRow buffers an idempotent insert. Nothing touches the database
// until CommitAll.
func (s *SQLiteStore) InsertRow(table string, row map[string]any, primaryKeyCols []string) {
	copied := make(map[string]any, len(row))
	for k, v := range row {
		copied[k] = v
	}
	pks := make([]string, len(primaryKeyCols))
	copy(pks, primaryKeyCols)

	s.mu.Lock()
	s.pending = append(s.pending, pendingRow{table: table, row: copied, pkCols: pks})
	s.mu.Unlock()
}

// CommitAll flushes every buffered row in one transaction. The buffer is
// cleared only on success so a failed flush can be retried.
func (s *SQLiteStore) CommitAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, p := range s.pending {
		query, args := buildUpsert(p)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", p.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Debug("store committed", "rows", len(s.pending))
	s.pending = s.pending[:0]
	return nil
}

// Query runs a parametrized query and materializes the rows. TEXT
// columns come back as strings.
func (s *SQLiteStore) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Ping verifies the connection, used by the keepalive schedule.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// buildUpsert renders INSERT ... ON CONFLICT(pk) DO UPDATE for one row.
// Column order is sorted so statements are deterministic.
func buildUpsert(p pendingRow) (string, []any) {
	cols := make([]string, 0, len(p.row))
	for col := range p.row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for _, col := range cols {
		args = append(args, p.row[col])
		placeholders = append(placeholders, "?")
	}

	pkSet := make(map[string]bool, len(p.pkCols))
	for _, pk := range p.pkCols {
		pkSet[pk] = true
	}
	var updates []string
	for _, col := range cols {
		if !pkSet[col] {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s)",
		p.table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(p.pkCols, ", "))
	if len(updates) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		fmt.Fprintf(&b, " DO UPDATE SET %s", strings.Join(updates, ", "))
	}
	return b.String(), args
}
