// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"rules-tuner/internal/llm"
)

// ErrScriptExhausted is returned once every scripted step was consumed.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Step is one canned reply. Err wins over Content when set.
type Step struct {
	Content string
	Err     error
}

// Reply is shorthand for a successful step.
func Reply(content string) Step { return Step{Content: content} }

// Fail is shorthand for a failing step.
func Fail(err error) Step { return Step{Err: err} }

// Call records what the client was asked.
type Call struct {
	Messages []llm.Message
	Options  llm.Options
}

// Client replays Steps in order and records every call. When Respond is
// set it is used instead of the script.
type Client struct {
	mu      sync.Mutex
	Steps   []Step
	Respond func(call Call) Step
	Calls   []Call
}

func New(steps ...Step) *Client {
	return &Client{Steps: steps}
}

func (c *Client) Generate(_ context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	var o llm.Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	call := Call{Messages: messages, Options: o}

	c.mu.Lock()
	c.Calls = append(c.Calls, call)
	var step Step
	switch {
	case c.Respond != nil:
		c.mu.Unlock()
		step = c.Respond(call)
		c.mu.Lock()
	case len(c.Steps) == 0:
		step = Fail(ErrScriptExhausted)
	default:
		step = c.Steps[0]
		c.Steps = c.Steps[1:]
	}
	c.mu.Unlock()

	if step.Err != nil {
		return llm.Response{}, step.Err
	}
	return llm.Response{Content: step.Content, Model: "scripted"}, nil
}

// CallCount is safe to use while the client is in use.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Prompt returns the concatenated content of call i.
func (c *Client) Prompt(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out string
	for _, m := range c.Calls[i].Messages {
		out += m.Content
	}
	return out
}
