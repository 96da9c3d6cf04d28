package evaluation

import (
	"math"
	"sort"
)

// DefaultGoodScore is the score from which a reply counts as good.
const DefaultGoodScore = 70

// Stats aggregates one result set. It is always derived, never stored on
// its own.
type Stats struct {
	AvgScore    float64 `json:"avg_score"`
	MedianScore float64 `json:"median_score"`
	GoodPct     int     `json:"good_pct"`
	Total       int     `json:"total"`
}

// CalcStats aggregates results. See StatsFromScores for the conventions.
func CalcStats(results []Result, goodScore float64) Stats {
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
	}
	return StatsFromScores(scores, goodScore)
}

// StatsFromScores computes the mean rounded to one decimal, the median as
// the element at index n/2 of the ascending scores (for an even count that
// is the upper of the two middle elements, never an average), and the
// rounded percentage of scores >= goodScore. An empty input yields zero
// Stats.
func StatsFromScores(scores []float64, goodScore float64) Stats {
	n := len(scores)
	if n == 0 {
		return Stats{}
	}

	sorted := make([]float64, n)
	copy(sorted, scores)
	sort.Float64s(sorted)

	var sum float64
	good := 0
	for _, s := range sorted {
		sum += s
		if s >= goodScore {
			good++
		}
	}

	return Stats{
		AvgScore:    math.Round(sum/float64(n)*10) / 10,
		MedianScore: sorted[n/2],
		GoodPct:     int(math.Round(float64(good) / float64(n) * 100)),
		Total:       n,
	}
}
