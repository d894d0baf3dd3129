package agent

import (
	"sync"

	"aicoder/pkg/agent/llm"
)

// History is the optional per-role conversation memory. When enabled it
// keeps the last window prompt/response exchanges and replays them as
// alternating user/assistant messages ahead of the next prompt.
type History struct {
	mu      sync.Mutex
	enabled bool
	window  int
	turns   []turn
}

type turn struct {
	prompt   string
	response string
}

// NewHistory creates a history with the given window. A disabled history
// accepts records but never replays them.
func NewHistory(enabled bool, window int) *History {
	if window < 1 {
		window = 1
	}
	return &History{enabled: enabled, window: window}
}

// Enabled reports whether the history replays past exchanges.
func (h *History) Enabled() bool {
	return h.enabled
}

// Record appends one completed exchange, evicting the oldest once the
// window is full.
func (h *History) Record(prompt, response string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn{prompt: prompt, response: response})
	if len(h.turns) > h.window {
		h.turns = h.turns[len(h.turns)-h.window:]
	}
}

// Reset drops all recorded exchanges.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// Len returns the number of retained exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// BuildRequest assembles the standard request with the remembered
// exchanges inserted between the system context and the new prompt.
func (h *History) BuildRequest(system, prompt string) llm.CompletionRequest {
	req := llm.NewRequest(system, prompt)
	if !h.enabled {
		return req
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) == 0 {
		return req
	}

	messages := make([]llm.CompletionMessage, 0, 2*len(h.turns)+2)
	if system != "" {
		messages = append(messages, llm.NewSystemMessage(system))
	}
	for i := range h.turns {
		messages = append(messages,
			llm.NewUserMessage(h.turns[i].prompt),
			llm.NewAssistantMessage(h.turns[i].response),
		)
	}
	messages = append(messages, llm.NewUserMessage(prompt))
	req.Messages = messages
	return req
}
