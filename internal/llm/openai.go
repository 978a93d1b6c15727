package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI talks to the chat completions endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

func (c *OpenAI) Complete(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	return withRetry(ctx, func() (Completion, error) {
		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Temperature: openai.Float(0),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			},
		}
		if maxTokens > 0 {
			params.MaxTokens = openai.Int(int64(maxTokens))
		}

		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
				return Completion{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return Completion{}, fmt.Errorf("llm: openai: %w", err)
		}
		if len(completion.Choices) == 0 {
			return Completion{}, ErrEmptyResponse
		}
		return Completion{
			Text:        completion.Choices[0].Message.Content,
			TotalTokens: int(completion.Usage.TotalTokens),
			Model:       string(completion.Model),
		}, nil
	})
}

var _ Client = (*OpenAI)(nil)
