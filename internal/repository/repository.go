// Package repository keeps run history, scored results and optionally the
// conversation corpus in SQL. Both sqlite (modernc) and postgres are
// supported; queries are written with ? placeholders and rebound per driver.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects and creates missing tables.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// one connection keeps ":memory:" databases alive and serialises writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("repository initialized", zap.String("driver", driver))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		rules_path TEXT NOT NULL DEFAULT '',
		conversations INTEGER NOT NULL DEFAULT 0,
		turns INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		control_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
		control_median DOUBLE PRECISION NOT NULL DEFAULT 0,
		control_good_pct INTEGER NOT NULL DEFAULT 0,
		control_total INTEGER NOT NULL DEFAULT 0,
		test_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
		test_median DOUBLE PRECISION NOT NULL DEFAULT 0,
		test_good_pct INTEGER NOT NULL DEFAULT 0,
		test_total INTEGER NOT NULL DEFAULT 0,
		improvement_pct DOUBLE PRECISION,
		edits_applied INTEGER NOT NULL DEFAULT 0,
		edits_skipped INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	`CREATE TABLE IF NOT EXISTS results (
		run_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		position INTEGER NOT NULL,
		conversation_id TEXT NOT NULL,
		message_index INTEGER NOT NULL,
		bot_message TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		feedback TEXT NOT NULL,
		context_json TEXT NOT NULL,
		PRIMARY KEY (run_id, phase, conversation_id, message_index)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		media_url TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (conversation_id, position)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
