// Package notify delivers run reports to a chat.
package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Telegram rejects longer messages.
const maxMessageLen = 4096

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	s         sender
	chatID    int64
	parseMode string
	logger    *zap.Logger
}

func NewTelegram(botToken string, chatID int64, parseMode string, logger *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegram(api, chatID, parseMode, logger), nil
}

func newTelegram(s sender, chatID int64, parseMode string, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{s: s, chatID: chatID, parseMode: parseMode, logger: logger}
}

func (t *Telegram) parseModeValue() string {
	switch strings.ToLower(t.parseMode) {
	case "markdown":
		return tgbotapi.ModeMarkdown
	case "markdownv2":
		return tgbotapi.ModeMarkdownV2
	case "html":
		return tgbotapi.ModeHTML
	default:
		return ""
	}
}

// Notify sends text, split into as many messages as the size limit needs.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	for i, chunk := range splitMessage(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, chunk)
		msg.ParseMode = t.parseModeValue()
		if _, err := t.s.Send(msg); err != nil {
			return fmt.Errorf("send part %d: %w", i+1, err)
		}
	}
	t.logger.Info("report delivered", zap.Int64("chat_id", t.chatID))
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line boundaries.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln > limit {
			flush()
		}
		for ln > limit {
			r := []rune(line)
			chunks = append(chunks, string(r[:limit]))
			line = string(r[limit:])
			ln -= limit
		}
		cur.WriteString(line)
		n += ln
	}
	flush()
	return chunks
}
