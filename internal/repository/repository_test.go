package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rules-tuner/internal/conversation"
	"rules-tuner/internal/evaluation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", nil)
	require.Error(t, err)
}

func TestRuns_CreateUpdateGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{ID: "run-1", Status: RunRunning, StartedAt: "2024-01-01T00:00:00Z", Provider: "openai", Model: "gpt-4o-mini"}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, got.Status)
	assert.Nil(t, got.ImprovementPct)

	pct := 12.5
	run.Status = RunCompleted
	run.FinishedAt = "2024-01-01T00:10:00Z"
	run.ControlAvg = 60
	run.TestAvg = 67.5
	run.ControlGoodPct = 40
	run.ImprovementPct = &pct
	run.Summary = "tightened greetings"
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, 67.5, got.TestAvg)
	assert.Equal(t, 40, got.ControlGoodPct)
	require.NotNil(t, got.ImprovementPct)
	assert.Equal(t, 12.5, *got.ImprovementPct)
	assert.Equal(t, "tightened greetings", got.Summary)
}

func TestRuns_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateRun(ctx, &Run{ID: "missing", Status: RunFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, &Run{ID: "a", Status: RunCompleted, StartedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, s.CreateRun(ctx, &Run{ID: "b", Status: RunCompleted, StartedAt: "2024-01-02T00:00:00Z"}))
	require.NoError(t, s.CreateRun(ctx, &Run{ID: "c", Status: RunCompleted, StartedAt: "2024-01-03T00:00:00Z"}))

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestResults_RoundTripInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results := []evaluation.Result{
		{ConversationID: "c2", MessageIndex: 1, BotMessage: "hi", Score: 40, Feedback: "terse",
			Context: []conversation.Message{
				{Sender: conversation.SenderCustomer, Content: "hello"},
				{Sender: conversation.SenderBot, Content: "hi"},
			}},
		{ConversationID: "c1", MessageIndex: 0, BotMessage: "welcome", Score: 90, Feedback: "good",
			Context: []conversation.Message{{Sender: conversation.SenderBot, Content: "welcome"}}},
	}
	require.NoError(t, s.SaveResults(ctx, "run-1", "baseline", results))
	require.NoError(t, s.SaveResults(ctx, "run-1", "test", results[:1]))

	got, err := s.ListResults(ctx, "run-1", "baseline")
	require.NoError(t, err)
	assert.Equal(t, results, got)

	got, err = s.ListResults(ctx, "run-1", "test")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.ListResults(ctx, "other", "baseline")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResults_DuplicateTurnRejected(t *testing.T) {
	s := openTestStore(t)
	r := evaluation.Result{ConversationID: "c1", MessageIndex: 0, Score: 50}
	err := s.SaveResults(context.Background(), "run-1", "baseline", []evaluation.Result{r, r})
	require.Error(t, err)

	got, err := s.ListResults(context.Background(), "run-1", "baseline")
	require.NoError(t, err)
	assert.Empty(t, got, "failed transaction must not leave partial rows")
}

func TestConversations_SaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	convs := []conversation.Conversation{
		{ID: "b", Messages: []conversation.Message{
			{Type: "text", Origin: "chat", Sender: conversation.SenderCustomer, Content: "q", CreatedAt: "2024-01-01T00:00:00Z"},
			{Type: "text", Origin: "chat", Sender: conversation.SenderBot, Content: "a", MediaURL: "https://x/y.png"},
		}},
		{ID: "a", Messages: []conversation.Message{
			{Sender: conversation.SenderBot, Content: "hello"},
		}},
	}
	require.NoError(t, s.SaveConversations(ctx, convs))

	got, err := s.LoadConversations(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, convs[1].Messages, got[0].Messages)
	assert.Equal(t, convs[0], got[1])

	// saving again replaces rather than appends
	convs[1].Messages = append(convs[1].Messages, conversation.Message{Sender: conversation.SenderCustomer, Content: "thanks"})
	require.NoError(t, s.SaveConversations(ctx, convs[1:]))
	got, err = s.LoadConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, got[0].Messages, 2)
}
