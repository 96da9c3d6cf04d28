package evaluation

import (
	"math"
	"sort"
)

// DefaultDiagnosticFraction is the share of worst results sent to the
// rule reviser.
const DefaultDiagnosticFraction = 0.1

// SelectDiagnosticSample returns the lowest scoring ceil(n*fraction)
// results, at least one for a non-empty input. Equal scores keep their
// original relative order. The input slice is not modified.
func SelectDiagnosticSample(results []Result, fraction float64) []Result {
	if len(results) == 0 {
		return nil
	}
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultDiagnosticFraction
	}

	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score < sorted[j].Score })

	// the epsilon keeps 30*0.1 = 3.0000000000000004 from rounding up to 4
	k := int(math.Ceil(float64(len(sorted))*fraction - 1e-9))
	if k < 1 {
		k = 1
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[:k]
}
