// Package geminihttp implements the Google Gemini generateContent wire
// dialect over raw net/http: system context and prompt concatenated into
// one text part, API key in the query string, usage from usageMetadata.
package geminihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/utils"
)

const maxErrorBodyStub = 512

// EndpointMarker is the substring that identifies a Gemini-style endpoint
// during dialect autodetection.
const EndpointMarker = "generativelanguage.googleapis.com"

// IsGeminiEndpoint reports whether the endpoint speaks this dialect.
func IsGeminiEndpoint(endpoint string) bool {
	return strings.Contains(endpoint, EndpointMarker)
}

// Client talks the Gemini generateContent dialect.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewClient creates a raw Gemini-dialect client (middleware applied at a
// higher level). timeout is the per-attempt budget.
func NewClient(endpoint, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
	}
}

// wire shapes.

type wirePart struct {
	Text string `json:"text"`
}

type wireContent struct {
	Parts []wirePart `json:"parts"`
	Role  string     `json:"role,omitempty"`
}

type wireGenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type wireRequest struct {
	Contents         []wireContent        `json:"contents"`
	GenerationConfig wireGenerationConfig `json:"generationConfig"`
}

type wireUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type wireResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *wireUsageMetadata `json:"usageMetadata"`
}

// Complete implements llm.LLMClient. Gemini has no separate system slot in
// this dialect, so system context and prompt are joined with a blank line.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, err
	}

	body := wireRequest{
		Contents: []wireContent{{
			Parts: []wirePart{{Text: in.FlattenPrompt()}},
		}},
		GenerationConfig: wireGenerationConfig{
			Temperature:     in.Temperature,
			MaxOutputTokens: in.MaxTokens,
		},
	}

	payload, err := json.Marshal(&body)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindValidation, err, "encode request body")
	}

	endpoint, err := c.keyedEndpoint()
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

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
		return llm.CompletionResponse{}, classifyStatus(resp.StatusCode, raw)
	}

	var decoded wireResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, err, "decode response body")
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindTransport, "response has no candidates")
	}

	out := llm.CompletionResponse{
		Content:    decoded.Candidates[0].Content.Parts[0].Text,
		StopReason: decoded.Candidates[0].FinishReason,
	}
	if decoded.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     decoded.UsageMetadata.PromptTokenCount,
			CompletionTokens: decoded.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      decoded.UsageMetadata.TotalTokenCount,
		}
	} else {
		prompt := utils.CountTokensSimple(in.FlattenPrompt())
		completion := utils.CountTokensSimple(out.Content)
		out.Usage = llm.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
			Estimated:        true,
		}
	}
	return out, nil
}

// GetModelName returns the model this client targets.
func (c *Client) GetModelName() string {
	return c.model
}

// keyedEndpoint appends the API key as a query parameter, preserving any
// parameters already present on the configured endpoint.
func (c *Client) keyedEndpoint() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", llmerrors.Wrap(llmerrors.KindConfig, err, "parse endpoint")
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func classifyStatus(statusCode int, body []byte) *llmerrors.Error {
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
