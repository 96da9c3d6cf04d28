// Package scoring asks the judge model for a 0..100 score of a single bot
// turn. It is the only place where judge replies for turns are parsed.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"rules-tuner/internal/config"
	"rules-tuner/internal/conversation"
	"rules-tuner/internal/llm"
)

var (
	ErrMalformedReply  = errors.New("malformed judge reply")
	ErrScoreOutOfRange = errors.New("judge score out of range")
)

const (
	MinScore = 0
	MaxScore = 100
)

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	MaxTokens   int
	Policy      string
	// Temperature is left to the provider default when nil.
	Temperature *float32
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
		MaxTokens:   500,
		Policy:      config.ScorePolicyClamp,
	}
}

// Judgement is the parsed judge verdict for one turn.
type Judgement struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

type Scorer struct {
	client llm.Client
	cfg    Config
	logger *zap.Logger

	calls   atomic.Int64
	retries atomic.Int64
}

func New(client llm.Client, cfg Config, logger *zap.Logger) *Scorer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Policy == "" {
		cfg.Policy = config.ScorePolicyClamp
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{client: client, cfg: cfg, logger: logger}
}

// Score judges the last message of window against rules. Rate-limited
// calls are retried with a fixed delay up to MaxAttempts; any other error,
// and malformed replies, are returned immediately.
func (s *Scorer) Score(ctx context.Context, window []conversation.Message, rules string) (Judgement, error) {
	if err := ctx.Err(); err != nil {
		return Judgement{}, err
	}
	prompt := BuildPrompt(window, rules)
	opts := []llm.Option{llm.WithMaxTokens(s.cfg.MaxTokens)}
	if s.cfg.Temperature != nil {
		opts = append(opts, llm.WithTemperature(*s.cfg.Temperature))
	}

	var reply llm.Response
	err := retry.Do(
		func() error {
			s.calls.Inc()
			r, err := s.client.Generate(ctx, llm.UserPrompt(prompt), opts...)
			if err != nil {
				return err
			}
			reply = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.cfg.MaxAttempts)),
		retry.Delay(s.cfg.RetryDelay),
		retry.DelayType(s.fixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, llm.ErrRateLimited)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("judge call rate limited",
				zap.Uint("attempt", n+1),
				zap.Int("max_attempts", s.cfg.MaxAttempts),
				zap.Error(err))
		}),
	)
	if err != nil {
		return Judgement{}, fmt.Errorf("judge call failed: %w", err)
	}

	j, err := ParseReply(reply.Content)
	if err != nil {
		return Judgement{}, err
	}
	return s.applyPolicy(j)
}

// fixedDelay is retry.FixedDelay plus bookkeeping; retry-go only asks for
// a delay when it is about to wait before another attempt.
func (s *Scorer) fixedDelay(n uint, err error, cfg *retry.Config) time.Duration {
	s.retries.Inc()
	return retry.FixedDelay(n, err, cfg)
}

// Calls is the number of oracle requests issued so far.
func (s *Scorer) Calls() int64 { return s.calls.Load() }

// Retries is the number of inter-attempt waits taken so far.
func (s *Scorer) Retries() int64 { return s.retries.Load() }

func (s *Scorer) applyPolicy(j Judgement) (Judgement, error) {
	if j.Score >= MinScore && j.Score <= MaxScore {
		return j, nil
	}
	switch s.cfg.Policy {
	case config.ScorePolicyReject:
		return Judgement{}, fmt.Errorf("%w: %v", ErrScoreOutOfRange, j.Score)
	case config.ScorePolicyPass:
		return j, nil
	default:
		s.logger.Warn("clamping judge score", zap.Float64("score", j.Score))
		j.Score = math.Max(MinScore, math.Min(MaxScore, j.Score))
		return j, nil
	}
}

// ParseReply validates a judge reply: after fence stripping it must be a
// JSON object with a numeric "score" and a string "feedback".
func ParseReply(content string) (Judgement, error) {
	body := llm.StripCodeFence(content)
	if !gjson.Valid(body) {
		return Judgement{}, fmt.Errorf("%w: not valid JSON: %q", ErrMalformedReply, truncate(body, 200))
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return Judgement{}, fmt.Errorf("%w: expected a JSON object", ErrMalformedReply)
	}

	score := root.Get("score")
	if score.Type != gjson.Number {
		return Judgement{}, fmt.Errorf("%w: field score must be a number", ErrMalformedReply)
	}
	v := score.Float()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Judgement{}, fmt.Errorf("%w: score is not finite", ErrMalformedReply)
	}

	feedback := root.Get("feedback")
	if feedback.Type != gjson.String {
		return Judgement{}, fmt.Errorf("%w: field feedback must be a string", ErrMalformedReply)
	}

	return Judgement{Score: v, Feedback: feedback.String()}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
