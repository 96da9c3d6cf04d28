// Package evaluation runs the judge over every bot turn of a conversation
// set and aggregates the outcome.
package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"rules-tuner/internal/conversation"
	"rules-tuner/internal/scoring"
)

// Judge scores one context window against a rule document.
type Judge interface {
	Score(ctx context.Context, window []conversation.Message, rules string) (scoring.Judgement, error)
}

type Config struct {
	// PacingDelay is waited between two consecutive judge calls.
	PacingDelay   time.Duration
	ContextWindow int
}

func DefaultConfig() Config {
	return Config{PacingDelay: 100 * time.Millisecond, ContextWindow: conversation.DefaultWindow}
}

// Pass is the outcome of one evaluation pass.
type Pass struct {
	Results []Result
	Turns   int
	Skipped int
	// Failures holds one error per skipped turn, nil when none failed.
	Failures *multierror.Error
}

type Option func(*Evaluator)

// WithProgress replaces the default log based progress sink.
func WithProgress(p Progress) Option {
	return func(e *Evaluator) { e.progress = p }
}

// WithWait replaces the pacing wait, mostly for tests.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Evaluator) { e.wait = wait }
}

type Evaluator struct {
	judge    Judge
	cfg      Config
	logger   *zap.Logger
	progress Progress
	wait     func(ctx context.Context, d time.Duration) error
}

func New(judge Judge, cfg Config, logger *zap.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{
		judge:  judge,
		cfg:    cfg,
		logger: logger,
		wait:   sleepCtx,
	}
	e.progress = NewLogProgress(logger)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores every bot turn of convs in order. A turn whose judge
// call fails is logged and skipped; the pass itself only fails when ctx is
// done, in which case the results gathered so far are returned with the
// context error.
func (e *Evaluator) Evaluate(ctx context.Context, convs []conversation.Conversation, rules string) (*Pass, error) {
	turns := conversation.Turns(convs, e.cfg.ContextWindow)
	pass := &Pass{Turns: len(turns), Results: make([]Result, 0, len(turns))}

	e.logger.Info("evaluation started",
		zap.Int("conversations", len(convs)),
		zap.Int("turns", len(turns)))

	for i, turn := range turns {
		if err := ctx.Err(); err != nil {
			return pass, err
		}

		j, err := e.judge.Score(ctx, turn.Context, rules)
		if err != nil {
			pass.Skipped++
			pass.Failures = multierror.Append(pass.Failures,
				fmt.Errorf("conversation %s message %d: %w", turn.ConversationID, turn.MessageIndex, err))
			e.logger.Warn("skipping turn",
				zap.String("conversation_id", turn.ConversationID),
				zap.Int("message_index", turn.MessageIndex),
				zap.Error(err))
		} else {
			pass.Results = append(pass.Results, Result{
				ConversationID: turn.ConversationID,
				MessageIndex:   turn.MessageIndex,
				BotMessage:     turn.BotMessage,
				Score:          j.Score,
				Feedback:       j.Feedback,
				Context:        turn.Context,
			})
		}
		e.progress.Update(i+1, len(turns), turn, err)

		if i < len(turns)-1 && e.cfg.PacingDelay > 0 {
			if err := e.wait(ctx, e.cfg.PacingDelay); err != nil {
				return pass, err
			}
		}
	}

	e.logger.Info("evaluation finished",
		zap.Int("scored", len(pass.Results)),
		zap.Int("skipped", pass.Skipped))
	return pass, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
