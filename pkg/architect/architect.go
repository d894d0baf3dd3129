// Package architect implements the planning role: one LLM call that
// turns free-form requirements into a structured architectural plan.
package architect

import (
	"context"

	"aicoder/pkg/agent"
	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/artifacts"
	"aicoder/pkg/eventlog"
	"aicoder/pkg/logx"
	"aicoder/pkg/templates"
	"aicoder/pkg/usage"
)

const systemPrompt = "You are a precise software architect. You respond with structured JSON only."

// Architect turns requirements into an ArchitecturalPlan.
type Architect struct {
	client     llm.LLMClient
	renderer   *templates.Renderer
	parser     *artifacts.Parser
	tracker    *usage.Tracker
	transcript *eventlog.Transcript
	history    *agent.History
	logger     *logx.Logger
}

// New creates the architect role. tracker and transcript may be nil in
// tests; recording is skipped.
func New(client llm.LLMClient, renderer *templates.Renderer, tracker *usage.Tracker, transcript *eventlog.Transcript) *Architect {
	return &Architect{
		client:     client,
		renderer:   renderer,
		parser:     artifacts.NewParser(),
		tracker:    tracker,
		transcript: transcript,
		logger:     logx.NewLogger("architect"),
	}
}

// WithMemory attaches the optional conversation window replayed into
// subsequent prompts.
func (a *Architect) WithMemory(h *agent.History) *Architect {
	a.history = h
	return a
}

func (a *Architect) newRequest(prompt string) llm.CompletionRequest {
	if a.history != nil {
		return a.history.BuildRequest(systemPrompt, prompt)
	}
	return llm.NewRequest(systemPrompt, prompt)
}

// CreateArchitecture produces the plan for the given requirements. An
// unparseable model reply yields the documented fallback plan, not an
// error; the stage is logged as low confidence.
func (a *Architect) CreateArchitecture(ctx context.Context, requirements string) (*artifacts.ArchitecturalPlan, error) {
	if requirements == "" {
		return nil, llmerrors.New(llmerrors.KindValidation, "requirements must not be empty")
	}

	prompt, err := a.renderer.Render(templates.ArchitectTemplate, &templates.PromptData{
		Requirements: requirements,
	})
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Complete(ctx, a.newRequest(prompt))
	if err != nil {
		if a.transcript != nil {
			a.transcript.LogError(err.Error(), "create_architecture")
		}
		return nil, err
	}
	a.record(prompt, resp)

	plan, parsed := a.parser.ParseArchitecture(resp.Content, requirements)
	if !parsed {
		a.logger.Warn("architecture response unparseable, proceeding with fallback plan")
		if a.transcript != nil {
			a.transcript.LogNote("fallback plan engaged: architecture response unparseable")
		}
	}
	a.logger.Info("plan ready: %d files, entry point %s", len(plan.FileStructure.Files), plan.FileStructure.EntryPoint)
	return plan, nil
}

func (a *Architect) record(prompt string, resp llm.CompletionResponse) {
	if a.history != nil {
		a.history.Record(prompt, resp.Content)
	}
	if a.tracker != nil {
		if err := a.tracker.TrackUsage(agent.TypeArchitect, resp.Usage); err != nil {
			a.logger.Warn("usage tracking failed: %v", err)
		}
	}
	if a.transcript != nil {
		a.transcript.LogInteraction(prompt, resp.Content, map[string]any{
			"tokens": resp.Usage.TotalTokens,
			"model":  a.client.GetModelName(),
		})
	}
}
