package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one row of the run history.
type Run struct {
	ID             string   `db:"id" json:"id"`
	Status         string   `db:"status" json:"status"`
	StartedAt      string   `db:"started_at" json:"started_at"`
	FinishedAt     string   `db:"finished_at" json:"finished_at,omitempty"`
	Provider       string   `db:"provider" json:"provider"`
	Model          string   `db:"model" json:"model"`
	RulesPath      string   `db:"rules_path" json:"rules_path"`
	Conversations  int      `db:"conversations" json:"conversations"`
	Turns          int      `db:"turns" json:"turns"`
	Skipped        int      `db:"skipped" json:"skipped"`
	ControlAvg     float64  `db:"control_avg" json:"control_avg"`
	ControlMedian  float64  `db:"control_median" json:"control_median"`
	ControlGoodPct int      `db:"control_good_pct" json:"control_good_pct"`
	ControlTotal   int      `db:"control_total" json:"control_total"`
	TestAvg        float64  `db:"test_avg" json:"test_avg"`
	TestMedian     float64  `db:"test_median" json:"test_median"`
	TestGoodPct    int      `db:"test_good_pct" json:"test_good_pct"`
	TestTotal      int      `db:"test_total" json:"test_total"`
	ImprovementPct *float64 `db:"improvement_pct" json:"improvement_pct"`
	EditsApplied   int      `db:"edits_applied" json:"edits_applied"`
	EditsSkipped   int      `db:"edits_skipped" json:"edits_skipped"`
	Summary        string   `db:"summary" json:"summary"`
	Error          string   `db:"error" json:"error,omitempty"`
}

const runColumns = `id, status, started_at, finished_at, provider, model, rules_path,
	conversations, turns, skipped,
	control_avg, control_median, control_good_pct, control_total,
	test_avg, test_median, test_good_pct, test_total,
	improvement_pct, edits_applied, edits_skipped, summary, error`

func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	q := s.db.Rebind(`INSERT INTO runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, runArgs(run)...); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun overwrites every column of an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *Run) error {
	q := s.db.Rebind(`UPDATE runs SET status = ?, started_at = ?, finished_at = ?, provider = ?, model = ?, rules_path = ?,
		conversations = ?, turns = ?, skipped = ?,
		control_avg = ?, control_median = ?, control_good_pct = ?, control_total = ?,
		test_avg = ?, test_median = ?, test_good_pct = ?, test_total = ?,
		improvement_pct = ?, edits_applied = ?, edits_skipped = ?, summary = ?, error = ?
		WHERE id = ?`)
	args := append(runArgs(run)[1:], run.ID)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func runArgs(r *Run) []any {
	return []any{
		r.ID, r.Status, r.StartedAt, r.FinishedAt, r.Provider, r.Model, r.RulesPath,
		r.Conversations, r.Turns, r.Skipped,
		r.ControlAvg, r.ControlMedian, r.ControlGoodPct, r.ControlTotal,
		r.TestAvg, r.TestMedian, r.TestGoodPct, r.TestTotal,
		r.ImprovementPct, r.EditsApplied, r.EditsSkipped, r.Summary, r.Error,
	}
}

func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	q := s.db.Rebind(`SELECT ` + runColumns + ` FROM runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &run, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	runs := []Run{}
	q := s.db.Rebind(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ?`)
	if err := s.db.SelectContext(ctx, &runs, q, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
