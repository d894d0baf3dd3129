// Package google provides the Gemini client backed by the official genai
// SDK, selected via MCP_PROVIDER=google. The raw-HTTP Gemini dialect in
// geminihttp remains the autodetected default.
package google

import (
	"context"
	"sync"

	"google.golang.org/genai"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/utils"
)

// Client wraps the genai SDK to implement llm.LLMClient.
type Client struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

// NewClient creates a raw Gemini SDK client. The underlying genai client
// needs a context, so creation is deferred to the first Complete call.
func NewClient(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

func (c *Client) getClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindConfig, err, "create genai client")
	}
	c.client = client
	return client, nil
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, err
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	config := &genai.GenerateContentConfig{}
	temp := in.Temperature
	config.Temperature = &temp
	if in.MaxTokens > 0 {
		config.MaxOutputTokens = int32(in.MaxTokens)
	}

	var contents []*genai.Content
	for i := range in.Messages {
		msg := in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			// Gemini takes system context as a separate instruction.
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	if len(contents) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindValidation, "request needs at least one non-system message")
	}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, err, "gemini API call failed")
	}

	out := llm.CompletionResponse{Content: result.Text()}
	if len(result.Candidates) > 0 {
		out.StopReason = string(result.Candidates[0].FinishReason)
	}
	if result.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
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
