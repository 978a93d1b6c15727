package llm

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens with cl100k_base, falling back to a
// character estimate when the encoding cannot be loaded.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoding: enc}
}

func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateTokens assumes roughly three characters per token.
func EstimateTokens(text string) int {
	return (len([]rune(text)) + 2) / 3
}
