package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type GeminiClient struct {
	client    *genai.Client
	modelName string
}

func NewGemini(ctx context.Context, apiKey, modelName string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, modelName: modelName}, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func (c *GeminiClient) Generate(ctx context.Context, messages []Message, opts ...Option) (Response, error) {
	o := applyOptions(opts)

	// The model handle carries per-call generation settings, so build a
	// fresh one instead of sharing it between calls.
	model := c.client.GenerativeModel(c.modelName)
	if o.MaxTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr[int32](int32(o.MaxTokens))
	}
	if o.Temperature != nil {
		model.GenerationConfig.Temperature = genai.Ptr[float32](*o.Temperature)
	}

	var system []string
	var parts []genai.Part
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		parts = append(parts, genai.Text(m.Content))
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}
	if len(parts) == 0 {
		return Response{}, fmt.Errorf("gemini: no user content to send")
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		if isGeminiRateLimit(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return Response{}, fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Response{}, fmt.Errorf("empty response from gemini")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}

	out := Response{Content: sb.String(), Model: c.modelName}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	return out, nil
}

func isGeminiRateLimit(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	return looksRateLimited(err.Error())
}
