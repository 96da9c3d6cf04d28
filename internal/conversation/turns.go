package conversation

// DefaultWindow is the number of messages a judge sees per bot turn,
// including the turn itself.
const DefaultWindow = 4

// Turn is one BOT message addressed by (ConversationID, MessageIndex) plus
// the messages leading up to it.
type Turn struct {
	ConversationID string
	MessageIndex   int
	BotMessage     string
	Context        []Message
}

// Turns flattens conversations into judgeable bot turns, preserving
// conversation order and message order within each conversation. The
// context of a turn at index i covers [max(0, i-window+1), i]. A window
// below 1 falls back to DefaultWindow.
func Turns(convs []Conversation, window int) []Turn {
	if window < 1 {
		window = DefaultWindow
	}
	var out []Turn
	for _, c := range convs {
		for i, m := range c.Messages {
			if m.Sender != SenderBot {
				continue
			}
			start := i - window + 1
			if start < 0 {
				start = 0
			}
			ctx := make([]Message, i-start+1)
			copy(ctx, c.Messages[start:i+1])
			out = append(out, Turn{
				ConversationID: c.ID,
				MessageIndex:   i,
				BotMessage:     m.Content,
				Context:        ctx,
			})
		}
	}
	return out
}
