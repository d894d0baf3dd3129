package agent

import (
	"context"
	"sync"

	"aicoder/pkg/agent/llm"
)

// Client is the role-facing LLM client produced by the Factory. It
// delegates to the full middleware stack and retains the last successful
// response for inspection by transcripts and diagnostics.
type Client struct {
	inner llm.LLMClient

	mu      sync.Mutex
	last    llm.CompletionResponse
	hasLast bool
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return resp, err
	}
	c.mu.Lock()
	c.last = resp
	c.hasLast = true
	c.mu.Unlock()
	return resp, nil
}

// GetModelName implements llm.LLMClient.
func (c *Client) GetModelName() string {
	return c.inner.GetModelName()
}

// LastResponse returns the most recent successful response, if any.
func (c *Client) LastResponse() (llm.CompletionResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

// LastUsage returns the usage of the most recent successful response.
func (c *Client) LastUsage() (llm.Usage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.Usage, c.hasLast
}
