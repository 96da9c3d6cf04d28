package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"rules-tuner/internal/conversation"
	"rules-tuner/internal/evaluation"
	"rules-tuner/internal/llm"
)

var ErrMalformedReply = errors.New("malformed revision reply")

type ReviserConfig struct {
	// MaxExamples caps how many diagnostic results go into the prompt.
	MaxExamples int
	MaxTokens   int
	Temperature *float32
}

func DefaultReviserConfig() ReviserConfig {
	return ReviserConfig{MaxExamples: 15, MaxTokens: 4000}
}

// Revision is the reviser's answer.
type Revision struct {
	Improvements []Improvement `json:"improvements"`
	Summary      string        `json:"summary"`
}

type Reviser struct {
	client llm.Client
	cfg    ReviserConfig
	logger *zap.Logger
}

func NewReviser(client llm.Client, cfg ReviserConfig, logger *zap.Logger) *Reviser {
	if cfg.MaxExamples < 1 {
		cfg.MaxExamples = DefaultReviserConfig().MaxExamples
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviser{client: client, cfg: cfg, logger: logger}
}

// Revise asks for rule edits that address the diagnostic sample. Any call
// or parse failure is returned as is; there is no partial revision.
func (r *Reviser) Revise(ctx context.Context, sample []evaluation.Result, doc string) (*Revision, error) {
	prompt := BuildRevisionPrompt(sample, doc, r.cfg.MaxExamples)

	opts := []llm.Option{llm.WithMaxTokens(r.cfg.MaxTokens)}
	if r.cfg.Temperature != nil {
		opts = append(opts, llm.WithTemperature(*r.cfg.Temperature))
	}

	resp, err := r.client.Generate(ctx, llm.UserPrompt(prompt), opts...)
	if err != nil {
		return nil, fmt.Errorf("revision call failed: %w", err)
	}

	rev, err := ParseRevision(resp.Content)
	if err != nil {
		r.logger.Error("unparseable revision reply", zap.String("reply", resp.Content), zap.Error(err))
		return nil, err
	}

	r.logger.Info("rule revision received",
		zap.Int("improvements", len(rev.Improvements)),
		zap.String("summary", rev.Summary))
	return rev, nil
}

const guidelines = `EDITING GUIDELINES:
- Be specific: name the exact situation and the exact expected bot behaviour.
- Preserve the structure, headings and tone of the existing rules.
- Add explicit prohibitions ("NEVER ...") for the failure modes you see.
- Reinforce critical points that the bot ignored, instead of adding new topics.
- Be concise: change as little text as possible.
- "originalText" must be copied character for character from the current rules.`

const revisionFormat = `Reply with a single JSON object and nothing else, no markdown and no code fences:
{
  "improvements": [
    {"ruleName": "<rule section>", "originalText": "<exact text to replace>", "improvedText": "<replacement>", "reason": "<which failures this fixes>"}
  ],
  "summary": "<short overview of the changes>"
}`

// BuildRevisionPrompt renders at most maxExamples diagnostic examples with
// their context and judge feedback, followed by the current rules.
func BuildRevisionPrompt(sample []evaluation.Result, doc string, maxExamples int) string {
	if maxExamples > 0 && len(sample) > maxExamples {
		sample = sample[:maxExamples]
	}

	var sb strings.Builder
	sb.WriteString("You maintain the business rules of a sales chatbot. ")
	sb.WriteString("The examples below are the lowest scoring bot replies under the current rules. ")
	sb.WriteString("Propose minimal edits to the rules that would prevent these failures.\n\n")

	sb.WriteString("LOW SCORING EXAMPLES:\n")
	for i, res := range sample {
		fmt.Fprintf(&sb, "\n### Example %d (score %.0f, conversation %s, message %d)\n",
			i+1, res.Score, res.ConversationID, res.MessageIndex)
		sb.WriteString(conversation.RenderLines(res.Context))
		sb.WriteString("\nJudge feedback: ")
		sb.WriteString(res.Feedback)
		sb.WriteString("\n")
	}

	sb.WriteString("\nCURRENT RULES:\n")
	sb.WriteString(doc)
	sb.WriteString("\n\n")
	sb.WriteString(guidelines)
	sb.WriteString("\n\n")
	sb.WriteString(revisionFormat)
	return sb.String()
}

// ParseRevision validates a reviser reply: an object with an
// "improvements" array of objects carrying four string fields, and a
// string "summary".
func ParseRevision(content string) (*Revision, error) {
	body := llm.StripCodeFence(content)
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedReply)
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedReply)
	}

	imps := root.Get("improvements")
	if !imps.IsArray() {
		return nil, fmt.Errorf("%w: field improvements must be an array", ErrMalformedReply)
	}
	summary := root.Get("summary")
	if summary.Type != gjson.String {
		return nil, fmt.Errorf("%w: field summary must be a string", ErrMalformedReply)
	}

	rev := &Revision{Summary: summary.String(), Improvements: []Improvement{}}
	for i, item := range imps.Array() {
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: improvement %d is not an object", ErrMalformedReply, i)
		}
		var fields [4]string
		for k, name := range []string{"ruleName", "originalText", "improvedText", "reason"} {
			v := item.Get(name)
			if v.Type != gjson.String {
				return nil, fmt.Errorf("%w: improvement %d field %s must be a string", ErrMalformedReply, i, name)
			}
			fields[k] = v.String()
		}
		rev.Improvements = append(rev.Improvements, Improvement{
			RuleName:     fields[0],
			OriginalText: fields[1],
			ImprovedText: fields[2],
			Reason:       fields[3],
		})
	}
	return rev, nil
}
