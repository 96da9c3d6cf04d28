package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rules-tuner/internal/evaluation"
	"rules-tuner/internal/storage"
)

// Evaluation is the outcome of a baseline-only run.
type Evaluation struct {
	RunID  string
	Pass   *evaluation.Pass
	Stats  evaluation.Stats
	Sample []evaluation.Result
}

// Evaluate scores the conversations with the current rules and selects the
// diagnostic sample without revising anything.
func (r *Runner) Evaluate(ctx context.Context) (ev *Evaluation, err error) {
	run, err := r.startRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer func() { r.finishRun(run, err) }()

	calls0, retries0 := r.oracleUsage()
	convs, doc, err := r.prepare(ctx, r.rng())
	if err != nil {
		return nil, err
	}
	run.Conversations = len(convs)

	pass, err := r.evaluator.Evaluate(ctx, convs, doc)
	if err != nil {
		return nil, fmt.Errorf("baseline evaluation: %w", err)
	}
	run.Turns = pass.Turns
	run.Skipped = pass.Skipped
	if err := r.record(ctx, run.ID, storage.PhaseBaseline, pass.Results); err != nil {
		return nil, err
	}

	ev = &Evaluation{
		RunID:  run.ID,
		Pass:   pass,
		Stats:  evaluation.CalcStats(pass.Results, r.opts.GoodScore),
		Sample: evaluation.SelectDiagnosticSample(pass.Results, r.opts.DiagnosticFraction),
	}
	run.ControlAvg = ev.Stats.AvgScore
	run.ControlMedian = ev.Stats.MedianScore
	run.ControlGoodPct = ev.Stats.GoodPct
	run.ControlTotal = ev.Stats.Total
	run.Summary = "baseline only"

	calls, retries := r.oracleUsage()
	r.logger.Info("evaluation run finished",
		zap.String("run_id", run.ID),
		zap.Int64("oracle_calls", calls-calls0),
		zap.Int64("oracle_retries", retries-retries0),
		zap.Float64("avg_score", ev.Stats.AvgScore),
		zap.Int("diagnostic_sample", len(ev.Sample)))
	return ev, nil
}
