// Package abtest compares revised rules against the original ones on a
// random control/test split of the conversations.
//
// Control conversations are never re-scored: their statistics come from
// the results of the original evaluation pass, while test conversations
// are evaluated afresh with the revised rules. The comparison therefore
// mixes the effect of the rules with the effect of the sample and is only
// a fair A/B split when the conversation population is homogeneous.
package abtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"rules-tuner/internal/conversation"
	"rules-tuner/internal/evaluation"
)

// ErrZeroBaseline marks an improvement percentage that cannot be computed
// because the control average is zero.
var ErrZeroBaseline = errors.New("control average score is zero")

type Evaluator interface {
	Evaluate(ctx context.Context, convs []conversation.Conversation, rules string) (*evaluation.Pass, error)
}

type Outcome struct {
	ControlIDs   []string         `json:"control_ids"`
	TestIDs      []string         `json:"test_ids"`
	ControlStats evaluation.Stats `json:"control_stats"`
	TestStats    evaluation.Stats `json:"test_stats"`
	// ImprovementPct is meaningful only when ImprovementDefined is set.
	ImprovementPct     float64 `json:"improvement_pct"`
	ImprovementDefined bool    `json:"improvement_defined"`

	TestPass *evaluation.Pass `json:"-"`
}

type Harness struct {
	evaluator Evaluator
	rng       *rand.Rand
	goodScore float64
	logger    *zap.Logger
}

func New(evaluator Evaluator, rng *rand.Rand, goodScore float64, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{evaluator: evaluator, rng: rng, goodScore: goodScore, logger: logger}
}

// Split shuffles convs and cuts at n/2: the first half is control, the
// rest is test, so an odd count puts the extra conversation in test.
func Split(convs []conversation.Conversation, rng *rand.Rand) (control, test []conversation.Conversation) {
	shuffled := conversation.Shuffled(convs, rng)
	mid := len(shuffled) / 2
	return shuffled[:mid], shuffled[mid:]
}

// RunTest splits convs, aggregates prior results of the control half and
// evaluates the test half with revisedRules. A zero control average leaves
// ImprovementDefined false instead of producing an invalid number.
func (h *Harness) RunTest(ctx context.Context, prior []evaluation.Result, convs []conversation.Conversation, revisedRules string) (*Outcome, error) {
	control, test := Split(convs, h.rng)

	controlIDs := make(map[string]struct{}, len(control))
	out := &Outcome{}
	for _, c := range control {
		controlIDs[c.ID] = struct{}{}
		out.ControlIDs = append(out.ControlIDs, c.ID)
	}
	for _, c := range test {
		out.TestIDs = append(out.TestIDs, c.ID)
	}

	h.logger.Info("a/b split",
		zap.Int("control", len(control)),
		zap.Int("test", len(test)))

	out.ControlStats = evaluation.CalcStats(evaluation.FilterByConversation(prior, controlIDs), h.goodScore)

	pass, err := h.evaluator.Evaluate(ctx, test, revisedRules)
	if err != nil {
		return nil, fmt.Errorf("evaluate test split: %w", err)
	}
	out.TestPass = pass
	out.TestStats = evaluation.CalcStats(pass.Results, h.goodScore)

	pct, err := ImprovementPct(out.ControlStats, out.TestStats)
	switch {
	case errors.Is(err, ErrZeroBaseline):
		h.logger.Warn("improvement undefined", zap.Error(err))
	case err != nil:
		return nil, err
	default:
		out.ImprovementPct = pct
		out.ImprovementDefined = true
	}
	return out, nil
}

// ImprovementPct is the relative change of the average score in percent.
func ImprovementPct(control, test evaluation.Stats) (float64, error) {
	if control.AvgScore == 0 {
		return 0, ErrZeroBaseline
	}
	return (test.AvgScore - control.AvgScore) / control.AvgScore * 100, nil
}
