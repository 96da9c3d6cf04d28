package evaluation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rules-tuner/internal/conversation"
	"rules-tuner/internal/llm"
	"rules-tuner/internal/llm/llmtest"
	"rules-tuner/internal/scoring"
)

// judgeFunc scores by the content of the judged bot message.
type judgeFunc func(bot string) (scoring.Judgement, error)

func (f judgeFunc) Score(_ context.Context, window []conversation.Message, _ string) (scoring.Judgement, error) {
	return f(window[len(window)-1].Content)
}

func conv(id string, senders ...conversation.Sender) conversation.Conversation {
	c := conversation.Conversation{ID: id}
	for i, s := range senders {
		c.Messages = append(c.Messages, conversation.Message{Sender: s, Content: fmt.Sprintf("%s-%d", id, i)})
	}
	return c
}

const (
	cu  = conversation.SenderCustomer
	bot = conversation.SenderBot
)

type waitRecorder struct {
	waits []time.Duration
}

func (w *waitRecorder) wait(_ context.Context, d time.Duration) error {
	w.waits = append(w.waits, d)
	return nil
}

func TestEvaluateScoresEveryBotTurnInOrder(t *testing.T) {
	convs := []conversation.Conversation{
		conv("a", cu, bot, cu, bot),
		conv("b", cu),
		conv("c", bot),
	}
	scores := map[string]float64{"a-1": 40, "a-3": 90, "c-0": 65}
	judge := judgeFunc(func(b string) (scoring.Judgement, error) {
		return scoring.Judgement{Score: scores[b], Feedback: "fb " + b}, nil
	})
	w := &waitRecorder{}
	e := New(judge, Config{PacingDelay: 100 * time.Millisecond, ContextWindow: 4}, zaptest.NewLogger(t), WithWait(w.wait))

	pass, err := e.Evaluate(context.Background(), convs, "rules")
	require.NoError(t, err)
	require.Len(t, pass.Results, 3)
	assert.Equal(t, 3, pass.Turns)
	assert.Zero(t, pass.Skipped)
	assert.Nil(t, pass.Failures)

	got := make([]string, 0, 3)
	for _, r := range pass.Results {
		got = append(got, fmt.Sprintf("%s/%d", r.ConversationID, r.MessageIndex))
	}
	assert.Equal(t, []string{"a/1", "a/3", "c/0"}, got)
	assert.Equal(t, "a-3", pass.Results[1].BotMessage)
	assert.Equal(t, 90.0, pass.Results[1].Score)
	assert.Equal(t, "fb a-3", pass.Results[1].Feedback)
	assert.Len(t, pass.Results[1].Context, 4)

	// pacing only between calls
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, w.waits)
}

func TestEvaluateSkipsFailedTurns(t *testing.T) {
	convs := []conversation.Conversation{conv("a", bot, bot, bot)}
	judge := judgeFunc(func(b string) (scoring.Judgement, error) {
		if b == "a-1" {
			return scoring.Judgement{}, fmt.Errorf("wrap: %w", scoring.ErrMalformedReply)
		}
		return scoring.Judgement{Score: 50, Feedback: "ok"}, nil
	})
	w := &waitRecorder{}
	e := New(judge, DefaultConfig(), zaptest.NewLogger(t), WithWait(w.wait))

	pass, err := e.Evaluate(context.Background(), convs, "rules")
	require.NoError(t, err)
	require.Len(t, pass.Results, 2)
	assert.Equal(t, 0, pass.Results[0].MessageIndex)
	assert.Equal(t, 2, pass.Results[1].MessageIndex)
	assert.Equal(t, 1, pass.Skipped)
	require.NotNil(t, pass.Failures)
	assert.Len(t, pass.Failures.Errors, 1)
	assert.ErrorIs(t, pass.Failures.Errors[0], scoring.ErrMalformedReply)
	assert.Len(t, w.waits, 2)
}

func TestEvaluateProgress(t *testing.T) {
	convs := []conversation.Conversation{conv("a", bot, cu, bot)}
	judge := judgeFunc(func(string) (scoring.Judgement, error) {
		return scoring.Judgement{Score: 1}, nil
	})
	var updates []string
	progress := ProgressFunc(func(done, total int, turn conversation.Turn, err error) {
		updates = append(updates, fmt.Sprintf("%d/%d %s", done, total, turn.BotMessage))
	})
	e := New(judge, Config{}, zaptest.NewLogger(t), WithProgress(progress))

	_, err := e.Evaluate(context.Background(), convs, "rules")
	require.NoError(t, err)
	assert.Equal(t, []string{"1/2 a-0", "2/2 a-2"}, updates)
}

func TestEvaluateStopsOnCancel(t *testing.T) {
	convs := []conversation.Conversation{conv("a", bot, bot, bot)}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	judge := judgeFunc(func(string) (scoring.Judgement, error) {
		calls++
		cancel()
		return scoring.Judgement{Score: 10}, nil
	})
	e := New(judge, Config{PacingDelay: time.Hour}, zaptest.NewLogger(t))

	pass, err := e.Evaluate(ctx, convs, "rules")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Len(t, pass.Results, 1)
}

func TestEvaluateWithScorer(t *testing.T) {
	client := llmtest.New(
		llmtest.Reply(`{"score": 20, "feedback": "pushy"}`),
		llmtest.Fail(errors.New("boom")),
		llmtest.Reply(`{"score": 90, "feedback": "great"}`),
	)
	scorer := scoring.New(client, scoring.Config{MaxAttempts: 3, RetryDelay: time.Millisecond, MaxTokens: 500}, zaptest.NewLogger(t))
	convs := []conversation.Conversation{conv("a", cu, bot), conv("b", bot), conv("c", cu, bot)}
	e := New(scorer, Config{PacingDelay: time.Millisecond}, zaptest.NewLogger(t))

	pass, err := e.Evaluate(context.Background(), convs, "rules")
	require.NoError(t, err)
	require.Len(t, pass.Results, 2)
	assert.Equal(t, "a", pass.Results[0].ConversationID)
	assert.Equal(t, "c", pass.Results[1].ConversationID)
	assert.Equal(t, 1, pass.Skipped)
	assert.NotErrorIs(t, pass.Failures, llm.ErrRateLimited)
}
