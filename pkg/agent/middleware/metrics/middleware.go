package metrics

import (
	"context"
	"time"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/logx"
	"aicoder/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor extracts token usage from a request/response pair.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor prefers the provider's usage block and falls back
// to tiktoken counting when the provider omitted it.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	return utils.CountTokensSimple(req.FlattenPrompt()), utils.CountTokensSimple(resp.Content)
}

// Middleware returns a middleware that records latency, token usage, and
// success/failure rates for every completion. agentName labels the role
// the wrapped client serves.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, agentName string, logger *logx.Logger) llm.Middleware {
	if recorder == nil {
		recorder = Nop()
	}
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(next, func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			start := time.Now()
			model := next.GetModelName()

			resp, err := next.Complete(ctx, req)
			duration := time.Since(start)

			status := statusSuccess
			errorKind := ""
			var promptTokens, completionTokens int
			if err != nil {
				status = statusError
				errorKind = llmerrors.KindOf(err).String()
			} else {
				promptTokens, completionTokens = usageExtractor(req, resp)
			}

			recorder.ObserveRequest(model, agentName, status, errorKind, promptTokens, completionTokens, duration)

			if logger != nil {
				logger.Debug("LLM request: model=%s agent=%s tokens=%d+%d status=%s duration=%dms",
					model, agentName, promptTokens, completionTokens, status, duration.Milliseconds())
			}

			return resp, err //nolint:wrapcheck // Middleware passes through errors unchanged
		})
	}
}
