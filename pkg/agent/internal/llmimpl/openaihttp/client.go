// Package openaihttp implements the OpenAI-style chat-completions wire
// dialect over raw net/http. The exact body, header, and response shapes
// are part of the pipeline contract, so no SDK sits in between.
package openaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/utils"
)

// maxErrorBodyStub caps how much of an error response body is carried in
// classified errors.
const maxErrorBodyStub = 512

// Client talks the OpenAI chat-completions dialect.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewClient creates a raw OpenAI-dialect client (middleware applied at a
// higher level). timeout is the per-attempt budget.
func NewClient(endpoint, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
	}
}

// request/response wire shapes.

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, err
	}

	body := wireRequest{
		Model:       c.model,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	}
	for i := range in.Messages {
		body.Messages = append(body.Messages, wireMessage{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	payload, err := json.Marshal(&body)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindValidation, err, "encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return llm.CompletionResponse{}, classifyTransportError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read side already consumed

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, err, "read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return llm.CompletionResponse{}, ClassifyStatus(resp.StatusCode, raw)
	}

	var decoded wireResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, err, "decode response body")
	}
	if len(decoded.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindTransport, "response has no choices")
	}

	out := llm.CompletionResponse{
		Content:    decoded.Choices[0].Message.Content,
		StopReason: decoded.Choices[0].FinishReason,
	}
	if decoded.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		}
	} else {
		out.Usage = EstimateUsage(in, out.Content)
	}
	return out, nil
}

// GetModelName returns the model this client targets.
func (c *Client) GetModelName() string {
	return c.model
}

// ClassifyStatus maps a non-200 HTTP status onto a classified error:
// 429 is a retryable rate limit; everything else is terminal transport.
func ClassifyStatus(statusCode int, body []byte) *llmerrors.Error {
	stub := string(body)
	if len(stub) > maxErrorBodyStub {
		stub = stub[:maxErrorBodyStub]
	}

	kind := llmerrors.KindTransport
	if statusCode == http.StatusTooManyRequests {
		kind = llmerrors.KindRateLimit
	}
	return &llmerrors.Error{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("provider returned status %d", statusCode),
		BodyStub:   stub,
	}
}

// classifyTransportError maps client-side failures: deadline expiry is a
// retryable timeout, everything else terminal transport.
func classifyTransportError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.Wrap(llmerrors.KindTimeout, err, "request timed out")
	}
	var urlTimeout interface{ Timeout() bool }
	if errors.As(err, &urlTimeout) && urlTimeout.Timeout() {
		return llmerrors.Wrap(llmerrors.KindTimeout, err, "request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.Canceled(err)
	}
	return llmerrors.Wrap(llmerrors.KindTransport, err, "request failed")
}

// EstimateUsage derives token counts with the tokenizer when the provider
// returned no usage block.
func EstimateUsage(in llm.CompletionRequest, content string) llm.Usage {
	prompt := utils.CountTokensSimple(in.FlattenPrompt())
	completion := utils.CountTokensSimple(content)
	return llm.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Estimated:        true,
	}
}
