package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rules-tuner/internal/abtest"
	"rules-tuner/internal/evaluation"
	"rules-tuner/internal/rules"
)

// Report is the outcome of a full tuning run.
type Report struct {
	RunID         string    `json:"run_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Conversations int       `json:"conversations"`
	Turns         int       `json:"turns"`
	SkippedTurns  int       `json:"skipped_turns"`

	Baseline       evaluation.Stats `json:"baseline"`
	Control        evaluation.Stats `json:"control"`
	Test           evaluation.Stats `json:"test"`
	ImprovementPct *float64         `json:"improvement_pct"`

	DiagnosticSample int                 `json:"diagnostic_sample"`
	Summary          string              `json:"summary"`
	Applied          []rules.Improvement `json:"applied"`
	SkippedEdits     []rules.Improvement `json:"skipped_edits"`

	// Judge calls made during the run, including rate-limited attempts.
	OracleCalls   int64 `json:"oracle_calls"`
	OracleRetries int64 `json:"oracle_retries"`
}

// SetOutcome copies the A/B outcome into the report.
func (r *Report) SetOutcome(o *abtest.Outcome) {
	r.Control = o.ControlStats
	r.Test = o.TestStats
	r.ImprovementPct = nil
	if o.ImprovementDefined {
		pct := o.ImprovementPct
		r.ImprovementPct = &pct
	}
}

// SetEdits copies the reviser output into the report.
func (r *Report) SetEdits(summary string, rep rules.ApplyReport) {
	r.Summary = summary
	r.Applied = rep.Applied
	r.SkippedEdits = rep.Skipped
}

func (r *Report) improvementText() string {
	if r.ImprovementPct == nil {
		return "undefined (control average is 0)"
	}
	return fmt.Sprintf("%+.1f%%", *r.ImprovementPct)
}

// GenerateReportSummary renders the report as a short message suitable for
// chat delivery.
func (r *Report) GenerateReportSummary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rules tuning run %s (%s/%s)\n\n", r.RunID, r.Provider, r.Model)
	fmt.Fprintf(&sb, "Evaluated %d bot turns in %d conversations", r.Turns, r.Conversations)
	if r.SkippedTurns > 0 {
		fmt.Fprintf(&sb, ", %d skipped", r.SkippedTurns)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Baseline: avg %.1f, median %.0f, good %d%%\n", r.Baseline.AvgScore, r.Baseline.MedianScore, r.Baseline.GoodPct)
	fmt.Fprintf(&sb, "Diagnostic sample: %d lowest turns\n", r.DiagnosticSample)
	if r.OracleCalls > 0 {
		fmt.Fprintf(&sb, "Judge calls: %d (%d retries)\n", r.OracleCalls, r.OracleRetries)
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Control (original rules, %d turns): avg %.1f, good %d%%\n", r.Control.Total, r.Control.AvgScore, r.Control.GoodPct)
	fmt.Fprintf(&sb, "Test (revised rules, %d turns): avg %.1f, good %d%%\n", r.Test.Total, r.Test.AvgScore, r.Test.GoodPct)
	fmt.Fprintf(&sb, "Improvement: %s\n", r.improvementText())

	fmt.Fprintf(&sb, "\nEdits: %d applied, %d skipped\n", len(r.Applied), len(r.SkippedEdits))
	for _, imp := range r.Applied {
		fmt.Fprintf(&sb, "- %s: %s\n", imp.RuleName, imp.Reason)
	}
	if r.Summary != "" {
		fmt.Fprintf(&sb, "\n%s\n", r.Summary)
	}
	return sb.String()
}

func (r *Report) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile stores the JSON form of the report, creating parent
// directories.
func (r *Report) WriteFile(path string) error {
	data, err := r.ToJSON()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(data+"\n"), 0o644)
}
