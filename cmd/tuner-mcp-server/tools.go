package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"rules-tuner/internal/conversation"
	"rules-tuner/internal/evaluation"
	"rules-tuner/internal/rules"
	"rules-tuner/internal/scoring"
)

type TurnMessage struct {
	Sender  string `json:"sender" mcp:"CUSTOMER or BOT"`
	Content string `json:"content" mcp:"message text"`
}

type ScoreTurnParams struct {
	Messages []TurnMessage `json:"messages" mcp:"context window, oldest first; the last message is the bot reply being judged"`
	Rules    string        `json:"rules" mcp:"business rule document to judge against"`
}

type ApplyImprovementsParams struct {
	Document     string              `json:"document" mcp:"current rule document"`
	Improvements []rules.Improvement `json:"improvements" mcp:"edits with ruleName, originalText, improvedText and reason, applied in order"`
}

type SplitStatsParams struct {
	Scores    []float64 `json:"scores" mcp:"scores of one result set"`
	GoodScore float64   `json:"good_score,omitempty" mcp:"threshold for a good reply, default 70"`
}

type ApplyImprovementsResult struct {
	Document string              `json:"document"`
	Applied  []rules.Improvement `json:"applied"`
	Skipped  []rules.Improvement `json:"skipped"`
}

type Judge interface {
	Score(ctx context.Context, window []conversation.Message, rules string) (scoring.Judgement, error)
}

// TunerMCPServer exposes the building blocks of a tuning run as MCP tools.
type TunerMCPServer struct {
	judge  Judge
	logger *zap.Logger
}

func NewTunerMCPServer(judge Judge, logger *zap.Logger) *TunerMCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TunerMCPServer{judge: judge, logger: logger}
}

func (s *TunerMCPServer) ScoreTurn(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ScoreTurnParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments

	if s.judge == nil {
		return errorResult(errors.New("no oracle configured, check LLM_PROVIDER and credentials")), nil
	}
	if len(args.Messages) == 0 {
		return errorResult(errors.New("messages must not be empty")), nil
	}

	window := make([]conversation.Message, 0, len(args.Messages))
	for i, m := range args.Messages {
		sender, err := conversation.ParseSender(m.Sender)
		if err != nil {
			return errorResult(fmt.Errorf("message %d: %w", i, err)), nil
		}
		window = append(window, conversation.Message{Sender: sender, Content: m.Content})
	}
	if window[len(window)-1].Sender != conversation.SenderBot {
		return errorResult(errors.New("the last message must be a BOT reply")), nil
	}

	s.logger.Info("score_turn", zap.Int("messages", len(window)))
	j, err := s.judge.Score(ctx, window, args.Rules)
	if err != nil {
		return errorResult(fmt.Errorf("scoring failed: %w", err)), nil
	}
	return jsonResult(j)
}

func (s *TunerMCPServer) ApplyImprovements(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ApplyImprovementsParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments

	doc, rep := rules.Apply(args.Document, args.Improvements)
	s.logger.Info("apply_improvements",
		zap.Int("applied", len(rep.Applied)),
		zap.Int("skipped", len(rep.Skipped)))

	return jsonResult(ApplyImprovementsResult{
		Document: doc,
		Applied:  nonNil(rep.Applied),
		Skipped:  nonNil(rep.Skipped),
	})
}

func (s *TunerMCPServer) SplitStats(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[SplitStatsParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments

	good := args.GoodScore
	if good == 0 {
		good = evaluation.DefaultGoodScore
	}
	return jsonResult(evaluation.StatsFromScores(args.Scores, good))
}

func nonNil(imps []rules.Improvement) []rules.Improvement {
	if imps == nil {
		return []rules.Improvement{}
	}
	return imps
}

func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(err error) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
