// Package ollama provides the local-model client backed by the Ollama
// chat API, selected via MCP_PROVIDER=ollama. No API key is required;
// the endpoint points at a local Ollama daemon.
package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/utils"
)

// DefaultEndpoint is used when no endpoint is configured.
const DefaultEndpoint = "http://localhost:11434"

// Client wraps the Ollama API client to implement llm.LLMClient.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a raw Ollama client against the given daemon URL.
func NewClient(endpoint, model string) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	base, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindConfig, err, "parse ollama endpoint")
	}
	return &Client{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

// Complete implements llm.LLMClient. Streaming is disabled; the full
// response arrives in a single callback invocation.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, err
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
		},
	}
	if in.MaxTokens > 0 {
		req.Options["num_predict"] = in.MaxTokens
	}

	var (
		content    strings.Builder
		stopReason string
		usage      llm.Usage
	)
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			stopReason = resp.DoneReason
			usage = llm.Usage{
				PromptTokens:     resp.Metrics.PromptEvalCount,
				CompletionTokens: resp.Metrics.EvalCount,
				TotalTokens:      resp.Metrics.PromptEvalCount + resp.Metrics.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() == context.Canceled {
			return llm.CompletionResponse{}, llmerrors.Canceled(err)
		}
		if ctx.Err() == context.DeadlineExceeded {
			return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTimeout, err, "ollama request timed out")
		}
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, err, "ollama API call failed")
	}

	out := llm.CompletionResponse{
		Content:    content.String(),
		StopReason: stopReason,
		Usage:      usage,
	}
	if out.Usage.TotalTokens == 0 {
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
