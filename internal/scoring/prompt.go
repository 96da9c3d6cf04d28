package scoring

import (
	"strings"

	"rules-tuner/internal/conversation"
)

const rubric = `SCORING RUBRIC (total 100 points):
1. Funnel progression (30 pts): the reply moves the customer to the next step of the sales funnel instead of stalling or looping.
2. Clarity (25 pts): the reply is short, unambiguous and answers what the customer actually asked.
3. Correct tool usage (25 pts): links, catalog items, scheduling and payment tools are used when the rules require them and never invented.
4. Conversion and engagement (20 pts): the reply invites a concrete action and keeps the customer engaged.

PENALTIES (subtract from the total):
- -30 inventing prices, products, policies or links not present in the rules
- -25 ignoring an explicit prohibition from the rules
- -20 asking for information the customer already provided
- -15 repeating the previous bot message almost verbatim
- -10 answering in a different language than the customer
- -10 walls of text or more than one question per message`

const replyFormat = `Reply with a single JSON object and nothing else, no markdown and no code fences.
The object must have exactly two fields:
{"score": <number from 0 to 100>, "feedback": "<one or two sentences explaining the score>"}`

// BuildPrompt renders the judge prompt for one bot turn.
func BuildPrompt(window []conversation.Message, rules string) string {
	var sb strings.Builder
	sb.WriteString("You are a strict quality reviewer for a sales chatbot. ")
	sb.WriteString("Evaluate the LAST BOT message of the conversation excerpt against the business rules.\n\n")
	sb.WriteString("BUSINESS RULES:\n")
	sb.WriteString(rules)
	sb.WriteString("\n\nCONVERSATION EXCERPT:\n")
	sb.WriteString(conversation.RenderLines(window))
	sb.WriteString("\n\n")
	sb.WriteString(rubric)
	sb.WriteString("\n\n")
	sb.WriteString(replyFormat)
	return sb.String()
}
