package utils

import (
	"strings"
	"testing"
)

func TestCountTokens(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewTokenCounter failed: %v", err)
	}

	if got := tc.CountTokens(""); got != 0 {
		t.Errorf("empty text should count 0 tokens, got %d", got)
	}

	short := tc.CountTokens("hello world")
	if short < 1 || short > 5 {
		t.Errorf("unexpected token count for short text: %d", short)
	}

	long := tc.CountTokens(strings.Repeat("hello world ", 100))
	if long <= short {
		t.Errorf("longer text should count more tokens: %d <= %d", long, short)
	}
}

func TestCountTokensSimple(t *testing.T) {
	if got := CountTokensSimple("def main():\n    pass\n"); got < 1 {
		t.Errorf("expected positive token count, got %d", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("abcdefgh"); got != 2 {
		t.Errorf("expected 2 estimated tokens for 8 chars, got %d", got)
	}
}
