// Package pacing provides the inter-call delay middleware that keeps the
// pipeline under the provider's request-per-minute budget. One Pacer is
// shared by every role in a run, so architect, coder, tester, and each
// debugger iteration all draw from the same clock.
package pacing

import (
	"context"
	"sync"
	"time"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/logx"
)

// Pacer enforces a minimum interval between successive LLM call starts.
type Pacer struct {
	mu       sync.Mutex
	delay    time.Duration
	enabled  bool
	lastCall time.Time
	logger   *logx.Logger

	// Clock hooks, replaced in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer with the given minimum gap. A disabled pacer
// passes every call through immediately.
func NewPacer(delay time.Duration, enabled bool) *Pacer {
	return &Pacer{
		delay:   delay,
		enabled: enabled,
		logger:  logx.NewLogger("pacing"),
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err() //nolint:wrapcheck // Callers classify via llmerrors
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Wait blocks until at least the configured delay has elapsed since the
// previous call start, then records the new call start. The sleep is
// cancellable through ctx.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || !p.enabled || p.delay <= 0 {
		return nil
	}

	p.mu.Lock()
	now := p.now()
	var wait time.Duration
	if !p.lastCall.IsZero() {
		if elapsed := now.Sub(p.lastCall); elapsed < p.delay {
			wait = p.delay - elapsed
		}
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// rather than stampede.
	p.lastCall = now.Add(wait)
	p.mu.Unlock()

	if wait > 0 {
		p.logger.Debug("rate limit: waiting %s before next LLM call", wait)
		if err := p.sleep(ctx, wait); err != nil {
			return llmerrors.Canceled(err)
		}
	}
	return nil
}

// Middleware returns a middleware that applies the pacer before every
// completion.
func Middleware(pacer *Pacer) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			if err := pacer.Wait(ctx); err != nil {
				return llm.CompletionResponse{}, err
			}
			return next.Complete(ctx, req)
		})
	}
}
