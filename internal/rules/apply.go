package rules

import "strings"

// Improvement is one edit proposed by the reviser. OriginalText must occur
// literally in the document for the edit to take effect.
type Improvement struct {
	RuleName     string `json:"ruleName"`
	OriginalText string `json:"originalText"`
	ImprovedText string `json:"improvedText"`
	Reason       string `json:"reason"`
}

// ApplyReport lists which improvements changed the document.
type ApplyReport struct {
	Applied []Improvement
	Skipped []Improvement
}

// Apply replaces, in order, the first occurrence of each OriginalText with
// its ImprovedText. Improvements whose OriginalText is empty or not found in
// the document as edited so far are skipped. doc itself is not modified.
func Apply(doc string, improvements []Improvement) (string, ApplyReport) {
	var rep ApplyReport
	out := doc
	for _, imp := range improvements {
		if imp.OriginalText == "" || !strings.Contains(out, imp.OriginalText) {
			rep.Skipped = append(rep.Skipped, imp)
			continue
		}
		out = strings.Replace(out, imp.OriginalText, imp.ImprovedText, 1)
		rep.Applied = append(rep.Applied, imp)
	}
	return out, rep
}
