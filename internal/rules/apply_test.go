package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = "## Greeting\n\nSay hello.\n\n## Pricing\n\nShare the price when asked.\n"

func TestApplyEmptyListIsIdentity(t *testing.T) {
	out, rep := Apply(doc, nil)
	assert.Equal(t, doc, out)
	assert.Empty(t, rep.Applied)
	assert.Empty(t, rep.Skipped)
}

func TestApplyReplacesFirstOccurrenceOnly(t *testing.T) {
	in := "a rule. a rule."
	out, rep := Apply(in, []Improvement{{OriginalText: "a rule", ImprovedText: "A RULE"}})
	assert.Equal(t, "A RULE. a rule.", out)
	assert.Len(t, rep.Applied, 1)
	assert.Equal(t, "a rule. a rule.", in)
}

func TestApplySkipsMissingText(t *testing.T) {
	imps := []Improvement{
		{RuleName: "Pricing", OriginalText: "Share the price  when asked.", ImprovedText: "x"},
		{RuleName: "Greeting", OriginalText: "Say hello.", ImprovedText: "Say hello by name."},
		{RuleName: "Empty", OriginalText: "", ImprovedText: "inserted"},
	}
	out, rep := Apply(doc, imps)
	assert.Contains(t, out, "Say hello by name.")
	assert.Contains(t, out, "Share the price when asked.")
	assert.NotContains(t, out, "inserted")
	require.Len(t, rep.Applied, 1)
	assert.Equal(t, "Greeting", rep.Applied[0].RuleName)
	require.Len(t, rep.Skipped, 2)
	assert.Equal(t, "Pricing", rep.Skipped[0].RuleName)
}

func TestApplyIsOrderSensitive(t *testing.T) {
	a := Improvement{RuleName: "A", OriginalText: "Say hello.", ImprovedText: "Say hello. Then ask for the budget."}
	b := Improvement{RuleName: "B", OriginalText: "ask for the budget", ImprovedText: "ask for the budget and timeline"}

	out, rep := Apply(doc, []Improvement{a, b})
	assert.Contains(t, out, "Then ask for the budget and timeline.")
	assert.Len(t, rep.Applied, 2)

	out, rep = Apply(doc, []Improvement{b, a})
	assert.Contains(t, out, "Then ask for the budget.")
	assert.NotContains(t, out, "timeline")
	assert.Len(t, rep.Skipped, 1)
	assert.Equal(t, "B", rep.Skipped[0].RuleName)
}

func TestApplyOverlappingEditsLastWins(t *testing.T) {
	imps := []Improvement{
		{OriginalText: "Say hello.", ImprovedText: "Greet warmly."},
		{OriginalText: "Greet warmly.", ImprovedText: "Greet formally."},
	}
	out, _ := Apply(doc, imps)
	assert.Contains(t, out, "Greet formally.")
}
