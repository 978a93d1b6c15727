package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini talks to the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (c *Gemini) Complete(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	return withRetry(ctx, func() (Completion, error) {
		cfg := &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      genai.Ptr[float32](0),
		}
		if maxTokens > 0 {
			cfg.MaxOutputTokens = int32(maxTokens)
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) && apiErr.Code == 429 {
				return Completion{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return Completion{}, fmt.Errorf("llm: gemini: %w", err)
		}
		text := resp.Text()
		if text == "" {
			return Completion{}, ErrEmptyResponse
		}
		out := Completion{Text: text, Model: c.model}
		if resp.UsageMetadata != nil {
			out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
		}
		return out, nil
	})
}

var _ Client = (*Gemini)(nil)
