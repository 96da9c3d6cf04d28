package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"rules-tuner/internal/evaluation"
)

type resultRow struct {
	ConversationID string  `db:"conversation_id"`
	MessageIndex   int     `db:"message_index"`
	BotMessage     string  `db:"bot_message"`
	Score          float64 `db:"score"`
	Feedback       string  `db:"feedback"`
	ContextJSON    string  `db:"context_json"`
}

// SaveResults stores one pass of a run in a single transaction.
func (s *Store) SaveResults(ctx context.Context, runID, phase string, results []evaluation.Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := tx.Rebind(`INSERT INTO results
		(run_id, phase, position, conversation_id, message_index, bot_message, score, feedback, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, r := range results {
		ctxJSON, err := json.Marshal(r.Context)
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, runID, phase, i, r.ConversationID, r.MessageIndex,
			r.BotMessage, r.Score, r.Feedback, string(ctxJSON)); err != nil {
			return fmt.Errorf("failed to save result %s/%d: %w", r.ConversationID, r.MessageIndex, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListResults returns a pass of a run in evaluation order.
func (s *Store) ListResults(ctx context.Context, runID, phase string) ([]evaluation.Result, error) {
	var rows []resultRow
	q := s.db.Rebind(`SELECT conversation_id, message_index, bot_message, score, feedback, context_json
		FROM results WHERE run_id = ? AND phase = ? ORDER BY position`)
	if err := s.db.SelectContext(ctx, &rows, q, runID, phase); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	out := make([]evaluation.Result, 0, len(rows))
	for _, row := range rows {
		r := evaluation.Result{
			ConversationID: row.ConversationID,
			MessageIndex:   row.MessageIndex,
			BotMessage:     row.BotMessage,
			Score:          row.Score,
			Feedback:       row.Feedback,
		}
		if err := json.Unmarshal([]byte(row.ContextJSON), &r.Context); err != nil {
			return nil, fmt.Errorf("decode context of %s/%d: %w", row.ConversationID, row.MessageIndex, err)
		}
		out = append(out, r)
	}
	return out, nil
}
