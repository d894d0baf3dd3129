package llm

import (
	"context"
	"strings"
	"testing"

	"aicoder/pkg/agent/llmerrors"
)

type stubClient struct {
	calls []CompletionRequest
}

func (s *stubClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	s.calls = append(s.calls, req)
	return CompletionResponse{Content: "ok"}, nil
}

func (s *stubClient) GetModelName() string { return "stub-model" }

// tagging middleware appends a marker to the first message so ordering
// is observable at the base client.
func tag(marker string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(next, func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			msgs := make([]CompletionMessage, len(req.Messages))
			copy(msgs, req.Messages)
			if len(msgs) > 0 {
				msgs[0].Content += marker
			}
			req.Messages = msgs
			return next.Complete(ctx, req)
		})
	}
}

func TestChainOrdering(t *testing.T) {
	base := &stubClient{}
	client := Chain(base, tag(":outer"), tag(":inner"))

	req := NewRequest("", "prompt")
	if _, err := client.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(base.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(base.calls))
	}
	got := base.calls[0].Messages[0].Content
	if got != "prompt:outer:inner" {
		t.Errorf("middleware applied in wrong order: %q", got)
	}
}

func TestChainEmptyReturnsBase(t *testing.T) {
	base := &stubClient{}
	if Chain(base) != LLMClient(base) {
		t.Error("empty chain should return the base client unchanged")
	}
}

func TestWrapClientDelegatesModelName(t *testing.T) {
	base := &stubClient{}
	wrapped := WrapClient(base, base.Complete)
	if wrapped.GetModelName() != "stub-model" {
		t.Errorf("model name not delegated: %q", wrapped.GetModelName())
	}
}

func TestNewRequestDefaults(t *testing.T) {
	req := NewRequest("system ctx", "do the thing")
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != RoleSystem || req.Messages[1].Role != RoleUser {
		t.Errorf("unexpected roles: %v, %v", req.Messages[0].Role, req.Messages[1].Role)
	}
	if req.Temperature != TemperatureDefault {
		t.Errorf("temperature = %v, want %v", req.Temperature, TemperatureDefault)
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("max tokens = %d, want %d", req.MaxTokens, DefaultMaxTokens)
	}

	bare := NewRequest("", "just a prompt")
	if len(bare.Messages) != 1 || bare.Messages[0].Role != RoleUser {
		t.Errorf("empty system context should produce a single user message")
	}
}

func TestValidateRejectsBadRequests(t *testing.T) {
	cases := []struct {
		name string
		req  CompletionRequest
	}{
		{"no messages", CompletionRequest{}},
		{"blank content", CompletionRequest{Messages: []CompletionMessage{NewUserMessage("   ")}}},
		{"bad role", CompletionRequest{Messages: []CompletionMessage{{Role: "narrator", Content: "hi"}}}},
		{"negative max tokens", CompletionRequest{Messages: []CompletionMessage{NewUserMessage("hi")}, MaxTokens: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !llmerrors.Is(err, llmerrors.KindValidation) {
				t.Errorf("expected validation kind, got %v", err)
			}
		})
	}

	good := NewRequest("s", "p")
	if err := good.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
}

func TestFlattenPrompt(t *testing.T) {
	req := NewRequest("system", "user")
	flat := req.FlattenPrompt()
	if !strings.Contains(flat, "system") || !strings.Contains(flat, "user") {
		t.Errorf("flatten dropped content: %q", flat)
	}
	if flat != "system\n\nuser" {
		t.Errorf("unexpected join: %q", flat)
	}
}
