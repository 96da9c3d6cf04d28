package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrRateLimited is returned (wrapped) by every provider when the remote
// side refuses a request because of rate or quota limits. Callers use it
// to decide whether a call is worth retrying.
var ErrRateLimited = errors.New("llm: rate limited")

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Client interface {
	Generate(ctx context.Context, messages []Message, opts ...Option) (Response, error)
}

// Options tune a single Generate call. Zero values mean "provider default".
type Options struct {
	MaxTokens   int
	Temperature *float32
}

type Option func(*Options)

// WithMaxTokens caps the length of the reply.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

func WithTemperature(t float32) Option {
	return func(o *Options) { o.Temperature = &t }
}

func applyOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// UserPrompt wraps a single prompt string as a one-message conversation.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: "user", Content: prompt}}
}

// StripCodeFence removes a surrounding markdown code fence (``` or ```json)
// from a model reply. Text without a fence is returned trimmed.
func StripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop the optional language tag, which may share the line with the body
	i := 0
	for i < len(s) && isTagLetter(s[i]) {
		i++
	}
	if i > 0 && i < len(s) && strings.IndexByte("\r\n\t {[", s[i]) >= 0 {
		s = s[i:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isTagLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// looksRateLimited is the fallback for providers that only report limits
// in the error text.
func looksRateLimited(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "429") ||
		strings.Contains(m, "rate limit") ||
		strings.Contains(m, "too many requests") ||
		strings.Contains(m, "resource_exhausted") ||
		strings.Contains(m, "quota")
}
