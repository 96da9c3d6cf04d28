// Package conversation holds the chat transcripts under evaluation and the
// indexer that turns them into judgeable bot turns.
package conversation

import (
	"fmt"
	"strings"
)

type Sender string

const (
	SenderCustomer Sender = "CUSTOMER"
	SenderBot      Sender = "BOT"
)

// ParseSender accepts the sender tag case-insensitively.
func ParseSender(s string) (Sender, error) {
	switch Sender(strings.ToUpper(strings.TrimSpace(s))) {
	case SenderCustomer:
		return SenderCustomer, nil
	case SenderBot:
		return SenderBot, nil
	default:
		return "", fmt.Errorf("unknown sender %q", s)
	}
}

// Message is one utterance of a conversation. Messages are never modified
// after loading.
type Message struct {
	Type      string `json:"type"`
	Origin    string `json:"origin"`
	Sender    Sender `json:"sender"`
	Content   string `json:"content"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// Conversation is an ordered, chronological list of messages.
type Conversation struct {
	ID       string    `json:"conversation_id"`
	Messages []Message `json:"messages"`
}

func (c Conversation) BotMessages() int {
	n := 0
	for _, m := range c.Messages {
		if m.Sender == SenderBot {
			n++
		}
	}
	return n
}

// RenderLines formats messages as "SENDER: content" lines, the shape the
// judge prompts embed.
func RenderLines(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(m.Sender))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}
