package evaluation

import "rules-tuner/internal/conversation"

// Result is one scored bot turn. Context is the exact window the judge saw.
type Result struct {
	ConversationID string                 `json:"conversation_id"`
	MessageIndex   int                    `json:"message_index"`
	BotMessage     string                 `json:"bot_message"`
	Score          float64                `json:"score"`
	Feedback       string                 `json:"feedback"`
	Context        []conversation.Message `json:"context"`
}

// FilterByConversation keeps results whose conversation id is in ids,
// preserving order.
func FilterByConversation(results []Result, ids map[string]struct{}) []Result {
	var out []Result
	for _, r := range results {
		if _, ok := ids[r.ConversationID]; ok {
			out = append(out, r)
		}
	}
	return out
}
