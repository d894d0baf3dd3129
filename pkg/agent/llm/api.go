// Package llm provides the client interface and message types for
// language model interactions.
package llm

import (
	"context"
	"strings"

	"aicoder/pkg/agent/llmerrors"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// TemperatureDefault is the house default for code generation and
	// other deterministic tasks. Slight randomness avoids loop lock-in.
	TemperatureDefault = 0.2

	// DefaultMaxTokens caps completions when the caller does not say otherwise.
	DefaultMaxTokens = 4096
)

// CompletionMessage represents one message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// Usage carries the token accounting for one completed request.
// Estimated is set when the provider returned no usage block and the
// counts were derived from the tokenizer instead.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string // Main response text
	StopReason string // Provider stop reason when available
	Usage      Usage
}

// LLMClient defines the interface for language model interactions.
//
//nolint:revive // Keep the stuttering name; it is the established call-site vocabulary
type LLMClient interface {
	// Complete generates a completion synchronously. Implementations honor
	// ctx for cancellation and per-attempt timeouts.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model this client targets, for logging and metrics.
	GetModelName() string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}

// NewRequest builds the standard two-message request used by every role:
// an optional system context plus the user prompt, with house defaults.
func NewRequest(system, prompt string) CompletionRequest {
	messages := make([]CompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, NewSystemMessage(system))
	}
	messages = append(messages, NewUserMessage(prompt))
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// Validate rejects requests no provider could serve. Violations are
// programmer errors and classify as validation failures.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return llmerrors.New(llmerrors.KindValidation, "completion request has no messages")
	}
	for i := range r.Messages {
		if strings.TrimSpace(r.Messages[i].Content) == "" {
			return llmerrors.Newf(llmerrors.KindValidation, "message %d is empty", i)
		}
		switch r.Messages[i].Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return llmerrors.Newf(llmerrors.KindValidation, "message %d has invalid role %q", i, r.Messages[i].Role)
		}
	}
	if r.MaxTokens < 0 {
		return llmerrors.New(llmerrors.KindValidation, "max tokens must be non-negative")
	}
	return nil
}

// FlattenPrompt joins all message contents for providers and estimators
// that operate on a single text blob (system first, newline separated).
func (r *CompletionRequest) FlattenPrompt() string {
	parts := make([]string, 0, len(r.Messages))
	for i := range r.Messages {
		parts = append(parts, r.Messages[i].Content)
	}
	return strings.Join(parts, "\n\n")
}
