package storage

import (
	"time"

	"rules-tuner/internal/evaluation"
)

const (
	PhaseBaseline = "baseline"
	PhaseTest     = "test"
)

// Record is one scored turn as written to the result log. Records of one
// run share RunID; Phase tells the original-rules pass from the
// revised-rules pass.
type Record struct {
	RunID      string    `json:"run_id"`
	Phase      string    `json:"phase"`
	RecordedAt time.Time `json:"recorded_at"`
	evaluation.Result
}

// Recorder abstracts persistence of evaluation results.
// LoadResults should return records in the order they were appended.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendResults(records []Record) error
	LoadResults() ([]Record, error)
}

// NewRecords stamps results of one pass for the log.
func NewRecords(runID, phase string, at time.Time, results []evaluation.Result) []Record {
	out := make([]Record, len(results))
	for i, r := range results {
		out[i] = Record{RunID: runID, Phase: phase, RecordedAt: at, Result: r}
	}
	return out
}
