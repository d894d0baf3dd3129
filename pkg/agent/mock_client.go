package agent

import (
	"context"
	"sync"

	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
)

// MockStep is one scripted outcome for a MockClient call.
type MockStep struct {
	Content string
	Err     error
}

// MockClient is a scripted llm.LLMClient for tests across the role and
// orchestrator packages. Each Complete call consumes the next step; once
// the script runs out, the last step repeats.
type MockClient struct {
	mu    sync.Mutex
	steps []MockStep
	calls []llm.CompletionRequest
	model string
}

// NewMockClient creates a mock that replays the given steps in order.
func NewMockClient(steps ...MockStep) *MockClient {
	return &MockClient{steps: steps, model: "mock-model"}
}

// MockResponses is a convenience constructor for all-success scripts.
func MockResponses(contents ...string) *MockClient {
	steps := make([]MockStep, 0, len(contents))
	for _, c := range contents {
		steps = append(steps, MockStep{Content: c})
	}
	return NewMockClient(steps...)
}

// Complete implements llm.LLMClient.
func (m *MockClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, llmerrors.Canceled(err)
	}
	if err := req.Validate(); err != nil {
		return llm.CompletionResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if len(m.steps) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindUnknown, "mock client has no scripted steps")
	}
	idx := len(m.calls) - 1
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	step := m.steps[idx]
	if step.Err != nil {
		return llm.CompletionResponse{}, step.Err
	}
	return llm.CompletionResponse{
		Content:    step.Content,
		StopReason: "stop",
		Usage: llm.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}, nil
}

// GetModelName implements llm.LLMClient.
func (m *MockClient) GetModelName() string {
	return m.model
}

// CallCount returns how many Complete calls the mock has served.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the recorded requests.
func (m *MockClient) Calls() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastPrompt returns the final user message of the most recent call, or
// empty when no calls were made.
func (m *MockClient) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	msgs := m.calls[len(m.calls)-1].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
