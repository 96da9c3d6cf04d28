// Package analytics summarises result logs and tuning runs for humans.
package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"rules-tuner/internal/storage"
)

// PhaseStats covers one pass of one run.
type PhaseStats struct {
	Phase          string                       `json:"phase"`
	Turns          int                          `json:"turns"`
	AvgScore       float64                      `json:"avg_score"`
	LowScores      int                          `json:"low_scores"`
	ByConversation map[string]ConversationStats `json:"by_conversation"`
}

// ConversationStats covers one conversation within a pass.
type ConversationStats struct {
	ConversationID string  `json:"conversation_id"`
	Turns          int     `json:"turns"`
	AvgScore       float64 `json:"avg_score"`
	MinScore       float64 `json:"min_score"`
}

// RunStats is the log-derived view of one run.
type RunStats struct {
	RunID  string                 `json:"run_id"`
	Phases map[string]*PhaseStats `json:"phases"`
}

// AnalyzeRun aggregates the records of runID. Scores below goodScore count
// as low.
func AnalyzeRun(records []storage.Record, runID string, goodScore float64) *RunStats {
	stats := &RunStats{RunID: runID, Phases: make(map[string]*PhaseStats)}
	sums := make(map[string]float64)
	convSums := make(map[string]map[string]float64)

	for _, rec := range records {
		if rec.RunID != runID {
			continue
		}
		ps, ok := stats.Phases[rec.Phase]
		if !ok {
			ps = &PhaseStats{Phase: rec.Phase, ByConversation: make(map[string]ConversationStats)}
			stats.Phases[rec.Phase] = ps
			convSums[rec.Phase] = make(map[string]float64)
		}
		ps.Turns++
		sums[rec.Phase] += rec.Score
		if rec.Score < goodScore {
			ps.LowScores++
		}

		cs, ok := ps.ByConversation[rec.ConversationID]
		if !ok {
			cs = ConversationStats{ConversationID: rec.ConversationID, MinScore: rec.Score}
		}
		cs.Turns++
		cs.MinScore = math.Min(cs.MinScore, rec.Score)
		convSums[rec.Phase][rec.ConversationID] += rec.Score
		ps.ByConversation[rec.ConversationID] = cs
	}

	for phase, ps := range stats.Phases {
		ps.AvgScore = round1(sums[phase] / float64(ps.Turns))
		for id, cs := range ps.ByConversation {
			cs.AvgScore = round1(convSums[phase][id] / float64(cs.Turns))
			ps.ByConversation[id] = cs
		}
	}
	return stats
}

// WeakestConversations returns up to n conversations of a phase with the
// lowest average score.
func (rs *RunStats) WeakestConversations(phase string, n int) []ConversationStats {
	ps, ok := rs.Phases[phase]
	if !ok {
		return nil
	}
	out := make([]ConversationStats, 0, len(ps.ByConversation))
	for _, cs := range ps.ByConversation {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgScore != out[j].AvgScore {
			return out[i].AvgScore < out[j].AvgScore
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// GenerateReportSummary renders a plain-text overview.
func (rs *RunStats) GenerateReportSummary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s\n", rs.RunID)

	phases := make([]string, 0, len(rs.Phases))
	for p := range rs.Phases {
		phases = append(phases, p)
	}
	sort.Strings(phases)
	for _, p := range phases {
		ps := rs.Phases[p]
		fmt.Fprintf(&sb, "- %s: %d turns in %d conversations, avg %.1f, %d low\n",
			p, ps.Turns, len(ps.ByConversation), ps.AvgScore, ps.LowScores)
		for _, cs := range rs.WeakestConversations(p, 3) {
			fmt.Fprintf(&sb, "    %s: avg %.1f, min %.0f\n", cs.ConversationID, cs.AvgScore, cs.MinScore)
		}
	}
	return sb.String()
}

func (rs *RunStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
