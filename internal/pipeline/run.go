package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rules-tuner/internal/abtest"
	"rules-tuner/internal/analytics"
	"rules-tuner/internal/evaluation"
	"rules-tuner/internal/repository"
	"rules-tuner/internal/rules"
	"rules-tuner/internal/storage"
)

// Run executes the full cycle once: baseline evaluation, diagnostic
// sample, rule revision, revised rules output and the A/B comparison. A
// revision failure aborts the run.
func (r *Runner) Run(ctx context.Context) (report *analytics.Report, err error) {
	run, err := r.startRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer func() { r.finishRun(run, err) }()

	log := r.logger.With(zap.String("run_id", run.ID))
	rng := r.rng()
	calls0, retries0 := r.oracleUsage()

	convs, doc, err := r.prepare(ctx, rng)
	if err != nil {
		return nil, err
	}
	run.Conversations = len(convs)

	baseline, err := r.evaluator.Evaluate(ctx, convs, doc)
	if err != nil {
		return nil, fmt.Errorf("baseline evaluation: %w", err)
	}
	run.Turns = baseline.Turns
	run.Skipped = baseline.Skipped
	if err := r.record(ctx, run.ID, storage.PhaseBaseline, baseline.Results); err != nil {
		return nil, err
	}

	report = &analytics.Report{
		RunID:         run.ID,
		Provider:      r.opts.Provider,
		Model:         r.opts.Model,
		Conversations: len(convs),
		Turns:         baseline.Turns,
		SkippedTurns:  baseline.Skipped,
		Baseline:      evaluation.CalcStats(baseline.Results, r.opts.GoodScore),
	}
	log.Info("baseline evaluated",
		zap.Float64("avg_score", report.Baseline.AvgScore),
		zap.Float64("median_score", report.Baseline.MedianScore),
		zap.Int("good_pct", report.Baseline.GoodPct))

	sample := evaluation.SelectDiagnosticSample(baseline.Results, r.opts.DiagnosticFraction)
	if len(sample) == 0 {
		return nil, ErrNoResults
	}
	report.DiagnosticSample = len(sample)

	revision, err := r.deps.Reviser.Revise(ctx, sample, doc)
	if err != nil {
		return nil, fmt.Errorf("revise rules: %w", err)
	}

	revised, applied := rules.Apply(doc, revision.Improvements)
	for _, imp := range applied.Skipped {
		log.Warn("improvement skipped, original text not found",
			zap.String("rule", imp.RuleName),
			zap.String("original_text", imp.OriginalText))
	}
	report.SetEdits(revision.Summary, applied)
	run.EditsApplied = len(applied.Applied)
	run.EditsSkipped = len(applied.Skipped)
	run.Summary = revision.Summary

	if err := rules.WriteFile(r.opts.RulesOutputPath, revised); err != nil {
		return nil, err
	}
	log.Info("revised rules written", zap.String("path", r.opts.RulesOutputPath))

	harness := abtest.New(r.evaluator, rng, r.opts.GoodScore, log)
	outcome, err := harness.RunTest(ctx, baseline.Results, convs, revised)
	if err != nil {
		return nil, fmt.Errorf("a/b test: %w", err)
	}
	if err := r.record(ctx, run.ID, storage.PhaseTest, outcome.TestPass.Results); err != nil {
		return nil, err
	}
	report.SetOutcome(outcome)
	fillStats(run, outcome)
	calls, retries := r.oracleUsage()
	report.OracleCalls = calls - calls0
	report.OracleRetries = retries - retries0

	report.GeneratedAt = r.now().UTC()
	if r.opts.ReportPath != "" {
		if err := report.WriteFile(r.opts.ReportPath); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
	}
	if err := r.deps.Notifier.Notify(ctx, report.GenerateReportSummary()); err != nil {
		log.Error("failed to deliver report", zap.Error(err))
	}

	log.Info("run finished",
		zap.Float64("control_avg", outcome.ControlStats.AvgScore),
		zap.Float64("test_avg", outcome.TestStats.AvgScore),
		zap.Bool("improvement_defined", outcome.ImprovementDefined),
		zap.Float64("improvement_pct", outcome.ImprovementPct),
		zap.Int64("oracle_calls", report.OracleCalls),
		zap.Int64("oracle_retries", report.OracleRetries))
	return report, nil
}

func fillStats(run *repository.Run, o *abtest.Outcome) {
	run.ControlAvg = o.ControlStats.AvgScore
	run.ControlMedian = o.ControlStats.MedianScore
	run.ControlGoodPct = o.ControlStats.GoodPct
	run.ControlTotal = o.ControlStats.Total
	run.TestAvg = o.TestStats.AvgScore
	run.TestMedian = o.TestStats.MedianScore
	run.TestGoodPct = o.TestStats.GoodPct
	run.TestTotal = o.TestStats.Total
	run.ImprovementPct = nil
	if o.ImprovementDefined {
		pct := o.ImprovementPct
		run.ImprovementPct = &pct
	}
}
