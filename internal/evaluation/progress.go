package evaluation

import (
	"go.uber.org/zap"

	"rules-tuner/internal/conversation"
)

// Progress receives one update per finished turn. err is the judge error
// for skipped turns.
type Progress interface {
	Update(done, total int, turn conversation.Turn, err error)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(done, total int, turn conversation.Turn, err error)

func (f ProgressFunc) Update(done, total int, turn conversation.Turn, err error) {
	f(done, total, turn, err)
}

type LogProgress struct {
	logger *zap.Logger
}

func NewLogProgress(logger *zap.Logger) *LogProgress {
	return &LogProgress{logger: logger}
}

func (p *LogProgress) Update(done, total int, turn conversation.Turn, err error) {
	status := "scored"
	if err != nil {
		status = "skipped"
	}
	p.logger.Debug("turn evaluated",
		zap.Int("done", done),
		zap.Int("total", total),
		zap.String("conversation_id", turn.ConversationID),
		zap.Int("message_index", turn.MessageIndex),
		zap.String("status", status))
}
