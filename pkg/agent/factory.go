package agent

import (
	"aicoder/pkg/agent/internal/llmimpl/anthropic"
	"aicoder/pkg/agent/internal/llmimpl/geminihttp"
	"aicoder/pkg/agent/internal/llmimpl/google"
	"aicoder/pkg/agent/internal/llmimpl/ollama"
	"aicoder/pkg/agent/internal/llmimpl/openaihttp"
	"aicoder/pkg/agent/internal/llmimpl/openaiofficial"
	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/middleware/metrics"
	"aicoder/pkg/agent/middleware/pacing"
	"aicoder/pkg/agent/middleware/retry"
	"aicoder/pkg/config"
	"aicoder/pkg/logx"
)

// Factory builds the per-role LLM clients. All clients it produces share
// one pacer, so the minimum request gap holds across roles, and one
// metrics recorder.
type Factory struct {
	cfg      config.Config
	pacer    *pacing.Pacer
	policy   *retry.Policy
	recorder metrics.Recorder
	logger   *logx.Logger

	// baseOverride swaps the provider client in tests.
	baseOverride llm.LLMClient
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithRecorder sets the metrics recorder (default: shared Prometheus
// recorder).
func WithRecorder(r metrics.Recorder) FactoryOption {
	return func(f *Factory) { f.recorder = r }
}

// WithBaseClient replaces the provider client while keeping the full
// middleware stack, for tests.
func WithBaseClient(client llm.LLMClient) FactoryOption {
	return func(f *Factory) { f.baseOverride = client }
}

// NewFactory creates a client factory for the given configuration.
func NewFactory(cfg config.Config, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:      cfg,
		pacer:    pacing.NewPacer(cfg.RequestDelay, cfg.EnableRateLimiting),
		recorder: metrics.NewPrometheusRecorder(),
		logger:   logx.NewLogger("agent"),
	}
	policy := retry.DefaultConfig
	policy.MaxAttempts = cfg.MaxRetries
	f.policy = retry.NewPolicy(policy)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ClientFor returns the fully wrapped client for one role. Middleware
// order, outermost first: metrics, retry, pacing. Pacing sits inside
// retry so every retry attempt honors the request gap; metrics observes
// the whole call once, after the retry budget resolves.
func (f *Factory) ClientFor(role Type) (*Client, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}
	base, err := f.baseClient()
	if err != nil {
		return nil, err
	}
	wrapped := llm.Chain(base,
		metrics.Middleware(f.recorder, metrics.DefaultUsageExtractor, role.String(), f.logger.WithComponent("agent:"+role.String())),
		retry.Middleware(f.policy),
		pacing.Middleware(f.pacer),
	)
	return &Client{inner: wrapped}, nil
}

// baseClient resolves the provider client. An explicit MCP_PROVIDER picks
// an official SDK; otherwise the wire dialect is chosen by inspecting the
// endpoint.
func (f *Factory) baseClient() (llm.LLMClient, error) {
	if f.baseOverride != nil {
		return f.baseOverride, nil
	}
	if err := f.cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	switch f.cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(f.cfg.APIKey, f.cfg.Model), nil
	case config.ProviderGoogle:
		return google.NewClient(f.cfg.APIKey, f.cfg.Model), nil
	case config.ProviderOllama:
		return ollama.NewClient(f.cfg.Endpoint, f.cfg.Model)
	case config.ProviderOpenAIOfficial:
		return openaiofficial.NewClient(f.cfg.APIKey, f.cfg.Model, ""), nil
	default:
		if geminihttp.IsGeminiEndpoint(f.cfg.Endpoint) {
			return geminihttp.NewClient(f.cfg.Endpoint, f.cfg.APIKey, f.cfg.Model, f.cfg.RequestTimeout), nil
		}
		return openaihttp.NewClient(f.cfg.Endpoint, f.cfg.APIKey, f.cfg.Model, f.cfg.RequestTimeout), nil
	}
}

// Pacer exposes the shared pacer so callers outside the middleware stack
// (the orchestrator's inter-stage waits) can reuse the same schedule.
func (f *Factory) Pacer() *pacing.Pacer {
	return f.pacer
}
