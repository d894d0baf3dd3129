// Package anthropic provides the Anthropic Claude client implementation
// for the llm.LLMClient interface, selected via MCP_PROVIDER=anthropic.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
)

// Client wraps the Anthropic SDK to implement llm.LLMClient.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a raw Claude client (middleware applied at a higher
// level).
func NewClient(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// splitSystem extracts system messages into the top-level system
// parameter Anthropic requires and returns the rest.
func splitSystem(messages []llm.CompletionMessage) (string, []llm.CompletionMessage) {
	var systemParts []string
	rest := make([]llm.CompletionMessage, 0, len(messages))
	for i := range messages {
		if messages[i].Role == llm.RoleSystem {
			systemParts = append(systemParts, messages[i].Content)
			continue
		}
		rest = append(rest, messages[i])
	}
	return strings.Join(systemParts, "\n\n"), rest
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, err
	}

	systemPrompt, rest := splitSystem(in.Messages)
	if len(rest) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindValidation, "request needs at least one non-system message")
	}

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for i := range rest {
		block := anthropic.NewTextBlock(rest[i].Content)
		switch rest[i].Role {
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, err, "anthropic API call failed")
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindTransport, "empty response from anthropic API")
	}

	var content strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			content.WriteString(resp.Content[i].Text)
		}
	}

	promptTokens := int(resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	return llm.CompletionResponse{
		Content:    content.String(),
		StopReason: fmt.Sprintf("%v", resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// GetModelName returns the model this client targets.
func (c *Client) GetModelName() string {
	return string(c.model)
}
