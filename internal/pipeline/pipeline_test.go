package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"rules-tuner/internal/config"
	"rules-tuner/internal/conversation"
	"rules-tuner/internal/evaluation"
	"rules-tuner/internal/llm"
	"rules-tuner/internal/llm/llmtest"
	"rules-tuner/internal/repository"
	"rules-tuner/internal/rules"
	"rules-tuner/internal/scoring"
	"rules-tuner/internal/storage"
)

const baseRules = "## greeting\n\nAlways greet the customer.\n"

// scoreJudge scores by the judged bot message; any rule document that
// mentions "by name" lifts every turn to 95.
type scoreJudge struct {
	mu      sync.Mutex
	scores  map[string]float64
	rules   []string
	onScore func()
}

func (j *scoreJudge) Score(_ context.Context, window []conversation.Message, rules string) (scoring.Judgement, error) {
	j.mu.Lock()
	j.rules = append(j.rules, rules)
	j.mu.Unlock()
	if j.onScore != nil {
		j.onScore()
	}

	if strings.Contains(rules, "by name") {
		return scoring.Judgement{Score: 95, Feedback: "better"}, nil
	}
	msg := window[len(window)-1].Content
	s, ok := j.scores[msg]
	if !ok {
		return scoring.Judgement{}, errors.New("unknown turn")
	}
	return scoring.Judgement{Score: s, Feedback: "feedback for " + msg}, nil
}

type captureNotifier struct{ texts []string }

func (c *captureNotifier) Notify(_ context.Context, text string) error {
	c.texts = append(c.texts, text)
	return nil
}

const revisionReply = "```json\n" + `{
  "improvements": [
    {"ruleName": "greeting", "originalText": "Always greet the customer.", "improvedText": "Always greet the customer by name.", "reason": "cold openings"},
    {"ruleName": "ghost", "originalText": "text that is not there", "improvedText": "x", "reason": "hallucinated"}
  ],
  "summary": "personalise greetings"
}` + "\n```"

type fixture struct {
	dir      string
	opts     Options
	judge    *scoreJudge
	llm      *llmtest.Client
	store    *repository.Store
	recorder *storage.FileRecorder
	notifier *captureNotifier
}

func twoConversations() []conversation.Conversation {
	return []conversation.Conversation{
		{ID: "c-low", Messages: []conversation.Message{
			{Sender: conversation.SenderCustomer, Content: "hello"},
			{Sender: conversation.SenderBot, Content: "reply-low"},
		}},
		{ID: "c-high", Messages: []conversation.Message{
			{Sender: conversation.SenderCustomer, Content: "hi"},
			{Sender: conversation.SenderBot, Content: "reply-high"},
		}},
	}
}

func newFixture(t *testing.T, convs []conversation.Conversation, steps ...llmtest.Step) *fixture {
	t.Helper()
	dir := t.TempDir()

	convPath := filepath.Join(dir, "conversations.json")
	data, err := json.Marshal(convs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(convPath, data, 0o644))

	rulesPath := filepath.Join(dir, "rules.md")
	require.NoError(t, os.WriteFile(rulesPath, []byte(baseRules), 0o644))

	store, err := repository.Open(context.Background(), repository.DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	recorder, err := storage.NewFileRecorder(filepath.Join(dir, "logs", "results.jsonl"))
	require.NoError(t, err)

	return &fixture{
		dir: dir,
		opts: Options{
			Provider:            "openai",
			Model:               "gpt-4o-mini",
			RulesPath:           rulesPath,
			RulesOutputPath:     filepath.Join(dir, "out", "rules_improved.md"),
			ConversationsSource: config.SourceFile,
			ConversationsPath:   convPath,
			ReportPath:          filepath.Join(dir, "out", "report.json"),
			Evaluation:          evaluation.Config{ContextWindow: conversation.DefaultWindow},
			DiagnosticFraction:  0.1,
			GoodScore:           70,
			Seed:                7,
		},
		judge:    &scoreJudge{scores: map[string]float64{"reply-low": 20, "reply-high": 90}},
		llm:      llmtest.New(steps...),
		store:    store,
		recorder: recorder,
		notifier: &captureNotifier{},
	}
}

func (f *fixture) runner(t *testing.T) *Runner {
	t.Helper()
	return f.runnerWith(t, f.judge, nil)
}

func (f *fixture) runnerWith(t *testing.T, judge evaluation.Judge, logger *zap.Logger) *Runner {
	t.Helper()
	r, err := NewRunner(f.opts, Deps{
		Judge:    judge,
		Reviser:  rules.NewReviser(f.llm, rules.DefaultReviserConfig(), nil),
		Recorder: f.recorder,
		Store:    f.store,
		Source:   f.store,
		Notifier: f.notifier,
	}, logger)
	require.NoError(t, err)
	return r
}

func TestNewRunner_RequiresCollaborators(t *testing.T) {
	_, err := NewRunner(Options{}, Deps{}, nil)
	require.Error(t, err)

	_, err = NewRunner(Options{}, Deps{Judge: &scoreJudge{}}, nil)
	require.Error(t, err)

	_, err = NewRunner(Options{ConversationsSource: config.SourceDB}, Deps{
		Judge:   &scoreJudge{},
		Reviser: rules.NewReviser(llmtest.New(), rules.DefaultReviserConfig(), nil),
	}, nil)
	require.Error(t, err)
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t, twoConversations(), llmtest.Reply(revisionReply))
	ctx := context.Background()

	report, err := f.runner(t).Run(ctx)
	require.NoError(t, err)

	_, err = uuid.Parse(report.RunID)
	require.NoError(t, err)

	// baseline covers both turns and the diagnostic sample is the 20 alone
	assert.Equal(t, 2, report.Turns)
	assert.Equal(t, 55.0, report.Baseline.AvgScore)
	assert.Equal(t, 1, report.DiagnosticSample)
	require.Equal(t, 1, f.llm.CallCount())
	prompt := f.llm.Prompt(0)
	assert.Contains(t, prompt, "reply-low")
	assert.NotContains(t, prompt, "reply-high")
	assert.Contains(t, prompt, baseRules)

	// one edit applies, the hallucinated one is skipped
	assert.Len(t, report.Applied, 1)
	assert.Len(t, report.SkippedEdits, 1)
	assert.Equal(t, "personalise greetings", report.Summary)
	revised, err := os.ReadFile(f.opts.RulesOutputPath)
	require.NoError(t, err)
	assert.Equal(t, "## greeting\n\nAlways greet the customer by name.\n", string(revised))
	original, err := os.ReadFile(f.opts.RulesPath)
	require.NoError(t, err)
	assert.Equal(t, baseRules, string(original))

	// control comes from the baseline, test is re-scored with revised rules
	assert.Equal(t, 1, report.Control.Total)
	assert.Contains(t, []float64{20, 90}, report.Control.AvgScore)
	assert.Equal(t, 1, report.Test.Total)
	assert.Equal(t, 95.0, report.Test.AvgScore)
	require.NotNil(t, report.ImprovementPct)
	want := (95 - report.Control.AvgScore) / report.Control.AvgScore * 100
	assert.InDelta(t, want, *report.ImprovementPct, 1e-9)
	assert.Len(t, f.judge.rules, 3)

	// result log holds both phases
	recs, err := f.recorder.LoadResults()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, storage.PhaseBaseline, recs[0].Phase)
	assert.Equal(t, storage.PhaseTest, recs[2].Phase)
	for _, rec := range recs {
		assert.Equal(t, report.RunID, rec.RunID)
	}

	// run history
	run, err := f.store.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Conversations)
	assert.Equal(t, 1, run.EditsApplied)
	assert.Equal(t, 1, run.EditsSkipped)
	assert.Equal(t, 95.0, run.TestAvg)
	require.NotNil(t, run.ImprovementPct)
	assert.NotEmpty(t, run.FinishedAt)
	baseline, err := f.store.ListResults(ctx, report.RunID, storage.PhaseBaseline)
	require.NoError(t, err)
	assert.Len(t, baseline, 2)

	// report file and notification
	_, err = os.Stat(f.opts.ReportPath)
	require.NoError(t, err)
	require.Len(t, f.notifier.texts, 1)
	assert.Contains(t, f.notifier.texts[0], "Improvement:")
}

func TestRun_ReportsJudgeCalls(t *testing.T) {
	f := newFixture(t, twoConversations(), llmtest.Reply(revisionReply))
	judgeLLM := llmtest.New(
		llmtest.Fail(llm.ErrRateLimited),
		llmtest.Reply(`{"score": 50, "feedback": "ok"}`),
		llmtest.Reply(`{"score": 50, "feedback": "ok"}`),
		llmtest.Reply(`{"score": 50, "feedback": "ok"}`),
	)
	cfg := scoring.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	scorer := scoring.New(judgeLLM, cfg, nil)

	report, err := f.runnerWith(t, scorer, nil).Run(context.Background())
	require.NoError(t, err)

	// two baseline turns, one of them retried once, then one test turn
	assert.Equal(t, int64(4), report.OracleCalls)
	assert.Equal(t, int64(1), report.OracleRetries)
	assert.Equal(t, 4, judgeLLM.CallCount())
	assert.Contains(t, f.notifier.texts[0], "Judge calls: 4 (1 retries)")
}

func TestRun_JudgeWithoutCounters(t *testing.T) {
	f := newFixture(t, twoConversations(), llmtest.Reply(revisionReply))

	report, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.OracleCalls)
	assert.Zero(t, report.OracleRetries)
}

func TestRun_LogsLoadedBotMessages(t *testing.T) {
	convs := append(twoConversations(), conversation.Conversation{ID: "c-quiet", Messages: []conversation.Message{
		{Sender: conversation.SenderCustomer, Content: "anyone?"},
	}})
	f := newFixture(t, convs)
	core, logs := observer.New(zap.InfoLevel)

	_, err := f.runnerWith(t, f.judge, zap.New(core)).Evaluate(context.Background())
	require.NoError(t, err)

	loaded := logs.FilterMessage("conversations loaded").All()
	require.Len(t, loaded, 1)
	fields := loaded[0].ContextMap()
	assert.Equal(t, int64(3), fields["count"])
	assert.Equal(t, int64(2), fields["bot_messages"])
}

func TestRun_SameSeedSameSplit(t *testing.T) {
	controls := make([]float64, 0, 2)
	for i := 0; i < 2; i++ {
		f := newFixture(t, twoConversations(), llmtest.Reply(revisionReply))
		report, err := f.runner(t).Run(context.Background())
		require.NoError(t, err)
		controls = append(controls, report.Control.AvgScore)
	}
	assert.Equal(t, controls[0], controls[1])
}

func TestRun_RevisionFailureIsFatal(t *testing.T) {
	f := newFixture(t, twoConversations(), llmtest.Reply("I would rather not"))
	ctx := context.Background()

	report, err := f.runner(t).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, rules.ErrMalformedReply)
	assert.Nil(t, report)

	_, statErr := os.Stat(f.opts.RulesOutputPath)
	assert.True(t, os.IsNotExist(statErr), "revised rules must not be written")
	assert.Empty(t, f.notifier.texts)

	runs, err := f.store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, repository.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "revise rules")
}

func TestRun_NoBotTurns(t *testing.T) {
	convs := []conversation.Conversation{{ID: "quiet", Messages: []conversation.Message{
		{Sender: conversation.SenderCustomer, Content: "anyone?"},
	}}}
	f := newFixture(t, convs)

	_, err := f.runner(t).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoResults)
	assert.Zero(t, f.llm.CallCount())
}

func TestRun_ZeroControlAverage(t *testing.T) {
	f := newFixture(t, twoConversations(), llmtest.Reply(revisionReply))
	f.judge.scores = map[string]float64{"reply-low": 0, "reply-high": 0}

	report, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.ImprovementPct)
	assert.Contains(t, f.notifier.texts[0], "undefined")

	run, err := f.store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Nil(t, run.ImprovementPct)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, twoConversations(), llmtest.Reply(revisionReply))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.judge.onScore = cancel

	_, err := f.runner(t).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.judge.rules, 1)
	assert.Zero(t, f.llm.CallCount())

	runs, err := f.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, repository.RunFailed, runs[0].Status)
}

func TestRun_ConversationsFromDatabase(t *testing.T) {
	f := newFixture(t, nil, llmtest.Reply(revisionReply))
	require.NoError(t, f.store.SaveConversations(context.Background(), twoConversations()))
	f.opts.ConversationsSource = config.SourceDB
	f.opts.ConversationsPath = filepath.Join(f.dir, "missing.json")

	report, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Conversations)
	assert.Equal(t, 1, report.DiagnosticSample)
}

func TestRun_Sampling(t *testing.T) {
	f := newFixture(t, twoConversations(), llmtest.Reply(revisionReply))
	f.opts.SampleEnabled = true
	f.opts.SampleSize = 1

	report, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conversations)
	assert.Equal(t, 1, report.Turns)
}

func TestEvaluate_BaselineOnly(t *testing.T) {
	f := newFixture(t, twoConversations())
	ctx := context.Background()

	ev, err := f.runner(t).Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 55.0, ev.Stats.AvgScore)
	assert.Equal(t, 90.0, ev.Stats.MedianScore)
	assert.Equal(t, 50, ev.Stats.GoodPct)
	require.Len(t, ev.Sample, 1)
	assert.Equal(t, "c-low", ev.Sample[0].ConversationID)
	assert.Zero(t, f.llm.CallCount())

	run, err := f.store.GetRun(ctx, ev.RunID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunCompleted, run.Status)
	assert.Equal(t, 55.0, run.ControlAvg)

	recs, err := f.recorder.LoadResults()
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
