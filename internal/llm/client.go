// Package llm wraps the chat providers used to diagnose stuck scans behind
// one small interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/config"
)

var (
	ErrRateLimited        = errors.New("llm: rate limited")
	ErrMaxRetriesExceeded = errors.New("llm: max retries exceeded")
	ErrEmptyResponse      = errors.New("llm: empty response")
	ErrMissingAPIKey      = errors.New("llm: api key is required")
)

const (
	MaxRetries  = 3
	BaseBackoff = time.Second
	MaxBackoff  = 10 * time.Second
)

// Completion is one model answer.
type Completion struct {
	Text        string
	TotalTokens int
	Model       string
}

// Client asks a model for a JSON object answer to prompt.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (Completion, error)
}

// New builds the client for cfg.Provider.
func New(ctx context.Context, cfg config.AIConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg.APIKey, cfg.Model), nil
	case "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// backoff returns the wait before retry attempt (1-based).
func backoff(attempt int) time.Duration {
	d := BaseBackoff << (attempt - 1)
	if d > MaxBackoff || d <= 0 {
		d = MaxBackoff
	}
	return d
}

// withRetry retries call while it reports ErrRateLimited.
func withRetry(ctx context.Context, call func() (Completion, error)) (Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}
		c, err := call()
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return Completion{}, err
		}
		lastErr = err
	}
	return Completion{}, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}
