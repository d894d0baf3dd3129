// Package retry provides retry middleware with exponential backoff for
// LLM clients. Only rate limits (HTTP 429) and per-attempt timeouts are
// retried; every other failure propagates after the first occurrence.
package retry

import (
	"context"
	"time"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/logx"
)

// Config defines the retry budget and backoff curve.
type Config struct {
	MaxAttempts    int           `json:"max_attempts"`    // including the initial attempt
	InitialBackoff time.Duration `json:"initial_backoff"` // delay before the second attempt
	BackoffFactor  float64       `json:"backoff_factor"`  // multiplier per retry
	MaxBackoff     time.Duration `json:"max_backoff"`     // cap on a single sleep
}

// DefaultConfig mirrors the pipeline defaults: 5 attempts, 2s initial
// backoff, doubling.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:    5,
	InitialBackoff: 2 * time.Second,
	BackoffFactor:  2.0,
	MaxBackoff:     2 * time.Minute,
}

// Policy encapsulates retry configuration plus the clock, which tests
// replace to run without real sleeps.
type Policy struct {
	Config Config
	Sleep  func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a retry policy with the real clock.
func NewPolicy(config Config) *Policy {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = DefaultConfig.BackoffFactor
	}
	return &Policy{
		Config: config,
		Sleep:  sleepCtx,
	}
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // Callers classify via llmerrors
	case <-time.After(d):
		return nil
	}
}

// Delay computes the backoff before the given attempt (attempt 1 is the
// initial request and never waits).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := p.Config.InitialBackoff
	for i := 2; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Config.BackoffFactor)
		if p.Config.MaxBackoff > 0 && delay > p.Config.MaxBackoff {
			return p.Config.MaxBackoff
		}
	}
	if p.Config.MaxBackoff > 0 && delay > p.Config.MaxBackoff {
		return p.Config.MaxBackoff
	}
	return delay
}

// Middleware returns a middleware wrapping an LLM client with the policy.
func Middleware(policy *Policy) llm.Middleware {
	logger := logx.NewLogger("retry")
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			var lastErr error

			for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
				if delay := policy.Delay(attempt); delay > 0 {
					logger.Info("retrying in %s (attempt %d/%d): %v", delay, attempt, policy.Config.MaxAttempts, lastErr)
					if err := policy.Sleep(ctx, delay); err != nil {
						return llm.CompletionResponse{}, llmerrors.Canceled(err)
					}
				}

				resp, err := next.Complete(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if !llmerrors.Retryable(err) {
					break
				}
			}

			if llmerrors.Retryable(lastErr) {
				// Budget spent on a retryable error: convert to its
				// terminal kind (429 -> rate limit exhausted).
				return llm.CompletionResponse{}, llmerrors.Exhausted(lastErr, policy.Config.MaxAttempts)
			}
			return llm.CompletionResponse{}, lastErr
		})
	}
}
