// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting for provider responses that omit
// usage blocks. GPT-4 encoding is a close-enough approximation for every
// model the pipeline talks to.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter for the given model. All known
// models map onto the GPT-4 encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		return estimateTokens(text)
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return estimateTokens(text)
	}
	return count
}

// estimateTokens is the character-based fallback (4 chars ≈ 1 token).
func estimateTokens(text string) int {
	return len(text) / 4
}

//nolint:gochecknoglobals // Shared codec for the package-level helper
var (
	simpleCounter     *TokenCounter
	simpleCounterOnce sync.Once
)

// CountTokensSimple counts tokens without requiring a TokenCounter
// instance. Uses GPT-4 encoding; falls back to estimation when the codec
// cannot be built.
func CountTokensSimple(text string) int {
	simpleCounterOnce.Do(func() {
		if tc, err := NewTokenCounter("gpt-4"); err == nil {
			simpleCounter = tc
		}
	})
	if simpleCounter == nil {
		return estimateTokens(text)
	}
	return simpleCounter.CountTokens(text)
}
