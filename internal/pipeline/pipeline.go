// Package pipeline runs one evaluate, diagnose, revise and validate cycle
// end to end and records its outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rules-tuner/internal/config"
	"rules-tuner/internal/conversation"
	"rules-tuner/internal/evaluation"
	"rules-tuner/internal/notify"
	"rules-tuner/internal/repository"
	"rules-tuner/internal/rules"
	"rules-tuner/internal/storage"
)

// ErrNoResults is returned when the baseline pass scored nothing, leaving
// no diagnostic sample to revise from.
var ErrNoResults = errors.New("baseline pass produced no results")

type Reviser interface {
	Revise(ctx context.Context, sample []evaluation.Result, doc string) (*rules.Revision, error)
}

// RunStore is the write side of the run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *repository.Run) error
	UpdateRun(ctx context.Context, run *repository.Run) error
	SaveResults(ctx context.Context, runID, phase string, results []evaluation.Result) error
}

// oracleCounter is implemented by judges that count their model calls.
type oracleCounter interface {
	Calls() int64
	Retries() int64
}

type ConversationSource interface {
	LoadConversations(ctx context.Context) ([]conversation.Conversation, error)
}

type Options struct {
	Provider string
	Model    string

	RulesPath           string
	RulesOutputPath     string
	ConversationsSource string
	ConversationsPath   string
	ReportPath          string

	Evaluation         evaluation.Config
	DiagnosticFraction float64
	GoodScore          float64

	SampleEnabled bool
	SampleSize    int
	// Seed drives sampling and the control/test split; 0 picks a time
	// based seed.
	Seed int64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Provider:            string(cfg.LLMProvider),
		Model:               cfg.Model(),
		RulesPath:           cfg.RulesPath,
		RulesOutputPath:     cfg.RulesOutputPath,
		ConversationsSource: cfg.ConversationsSource,
		ConversationsPath:   cfg.ConversationsPath,
		ReportPath:          cfg.ReportPath,
		Evaluation: evaluation.Config{
			PacingDelay:   cfg.PacingDelay,
			ContextWindow: cfg.ContextWindow,
		},
		DiagnosticFraction: cfg.DiagnosticFraction,
		GoodScore:          cfg.GoodScore,
		SampleEnabled:      cfg.SampleEnabled,
		SampleSize:         cfg.SampleSize,
		Seed:               cfg.Seed,
	}
}

// Deps are the collaborators of a Runner. Judge and Reviser are required;
// the rest are optional.
type Deps struct {
	Judge    evaluation.Judge
	Reviser  Reviser
	Recorder storage.Recorder
	Store    RunStore
	Source   ConversationSource
	Notifier notify.Notifier

	EvaluatorOptions []evaluation.Option
}

type Runner struct {
	opts      Options
	deps      Deps
	evaluator *evaluation.Evaluator
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewRunner(opts Options, deps Deps, logger *zap.Logger) (*Runner, error) {
	if deps.Judge == nil {
		return nil, errors.New("pipeline: judge is required")
	}
	if deps.Reviser == nil {
		return nil, errors.New("pipeline: reviser is required")
	}
	if opts.ConversationsSource == config.SourceDB && deps.Source == nil {
		return nil, errors.New("pipeline: database conversation source requires a store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if opts.DiagnosticFraction <= 0 {
		opts.DiagnosticFraction = evaluation.DefaultDiagnosticFraction
	}
	if opts.GoodScore == 0 {
		opts.GoodScore = evaluation.DefaultGoodScore
	}

	return &Runner{
		opts:      opts,
		deps:      deps,
		evaluator: evaluation.New(deps.Judge, opts.Evaluation, logger, deps.EvaluatorOptions...),
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (r *Runner) rng() *rand.Rand {
	seed := r.opts.Seed
	if seed == 0 {
		seed = r.now().UnixNano()
	}
	r.logger.Debug("random source seeded", zap.Int64("seed", seed))
	return rand.New(rand.NewSource(seed))
}

func (r *Runner) loadConversations(ctx context.Context) ([]conversation.Conversation, error) {
	var (
		convs []conversation.Conversation
		err   error
	)
	if r.opts.ConversationsSource == config.SourceDB {
		convs, err = r.deps.Source.LoadConversations(ctx)
	} else {
		convs, err = conversation.LoadFile(r.opts.ConversationsPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	bot := 0
	for _, c := range convs {
		bot += c.BotMessages()
	}
	r.logger.Info("conversations loaded",
		zap.String("source", r.opts.ConversationsSource),
		zap.Int("count", len(convs)),
		zap.Int("bot_messages", bot))
	return convs, nil
}

// oracleUsage reads the judge's cumulative call counters; a judge without
// counters reports zero.
func (r *Runner) oracleUsage() (calls, retries int64) {
	if c, ok := r.deps.Judge.(oracleCounter); ok {
		return c.Calls(), c.Retries()
	}
	return 0, 0
}

// prepare loads the inputs of a run and applies sampling.
func (r *Runner) prepare(ctx context.Context, rng *rand.Rand) ([]conversation.Conversation, string, error) {
	convs, err := r.loadConversations(ctx)
	if err != nil {
		return nil, "", err
	}
	doc, err := rules.Load(r.opts.RulesPath)
	if err != nil {
		return nil, "", err
	}
	if r.opts.SampleEnabled {
		convs = conversation.Sample(convs, r.opts.SampleSize, rng)
		r.logger.Info("conversations sampled", zap.Int("kept", len(convs)))
	}
	return convs, doc, nil
}

func (r *Runner) record(ctx context.Context, runID, phase string, results []evaluation.Result) error {
	if r.deps.Recorder != nil {
		if err := r.deps.Recorder.AppendResults(storage.NewRecords(runID, phase, r.now().UTC(), results)); err != nil {
			return fmt.Errorf("append %s results to log: %w", phase, err)
		}
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.SaveResults(ctx, runID, phase, results); err != nil {
			return fmt.Errorf("save %s results: %w", phase, err)
		}
	}
	return nil
}

func (r *Runner) startRun(ctx context.Context) (*repository.Run, error) {
	run := &repository.Run{
		ID:        r.newID(),
		Status:    repository.RunRunning,
		StartedAt: r.now().UTC().Format(time.RFC3339Nano),
		Provider:  r.opts.Provider,
		Model:     r.opts.Model,
		RulesPath: r.opts.RulesPath,
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.CreateRun(ctx, run); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// finishRun stamps the run as completed or failed. It uses a fresh context
// so a cancelled run is still recorded.
func (r *Runner) finishRun(run *repository.Run, runErr error) {
	run.FinishedAt = r.now().UTC().Format(time.RFC3339Nano)
	run.Status = repository.RunCompleted
	if runErr != nil {
		run.Status = repository.RunFailed
		run.Error = runErr.Error()
	}
	if r.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.deps.Store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("failed to update run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
