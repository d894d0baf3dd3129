// Package coder implements the code generation role: it turns an
// architectural plan into a complete Python code package plus docs.
package coder

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"aicoder/pkg/agent"
	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/artifacts"
	"aicoder/pkg/eventlog"
	"aicoder/pkg/logx"
	"aicoder/pkg/templates"
	"aicoder/pkg/usage"
)

const systemPrompt = "You are a careful Python developer. You produce complete, runnable files exactly in the requested format."

var mainGuardRe = regexp.MustCompile(`(?m)^if __name__\s*==\s*["']__main__["']\s*:\s*$`)

// Coder turns an ArchitecturalPlan into a CodePackage.
type Coder struct {
	client     llm.LLMClient
	renderer   *templates.Renderer
	parser     *artifacts.Parser
	tracker    *usage.Tracker
	transcript *eventlog.Transcript
	history    *agent.History
	logger     *logx.Logger
}

// New creates the coder role. tracker and transcript may be nil in
// tests; recording is skipped.
func New(client llm.LLMClient, renderer *templates.Renderer, tracker *usage.Tracker, transcript *eventlog.Transcript) *Coder {
	return &Coder{
		client:     client,
		renderer:   renderer,
		parser:     artifacts.NewParser(),
		tracker:    tracker,
		transcript: transcript,
		logger:     logx.NewLogger("coder"),
	}
}

// WithMemory attaches the optional conversation window replayed into
// subsequent prompts.
func (c *Coder) WithMemory(h *agent.History) *Coder {
	c.history = h
	return c
}

// Generate implements the two-phase generation: one whole-package call,
// then a per-file fallback for anything the first reply did not yield.
// A docs file rendered from the plan is always attached.
func (c *Coder) Generate(ctx context.Context, plan *artifacts.ArchitecturalPlan) (*artifacts.CodePackage, error) {
	if plan == nil {
		return nil, llmerrors.New(llmerrors.KindValidation, "nil architectural plan")
	}

	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindValidation, err, "encode plan")
	}
	filenames := plan.SourceFilenames()
	entryPoint := plan.FileStructure.EntryPoint

	files, err := c.generateWholePackage(ctx, string(planJSON), entryPoint, filenames)
	if err != nil {
		return nil, err
	}

	// Per-file fallback for any planned file the first pass missed.
	for _, name := range filenames {
		if _, ok := files[name]; ok {
			continue
		}
		c.logger.Warn("file %s missing from package response, generating individually", name)
		content, genErr := c.generateSingleFile(ctx, string(planJSON), plan, name, entryPoint, filenames)
		if genErr != nil {
			return nil, genErr
		}
		files[name] = content
	}

	if entry, ok := files[entryPoint]; ok {
		files[entryPoint] = StripMainGuard(entry)
	}

	docs, err := c.generateDocs(ctx, string(planJSON), entryPoint, filenames)
	if err != nil {
		c.logger.Warn("docs generation failed, continuing without docs: %v", err)
	} else if docs != "" {
		files[artifacts.DocsFilename] = docs
	}

	cp := &artifacts.CodePackage{
		Files:      files,
		Plan:       plan,
		EntryPoint: entryPoint,
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	c.logger.Info("code package ready: %d files", len(cp.Files))
	return cp, nil
}

func (c *Coder) generateWholePackage(ctx context.Context, planJSON, entryPoint string, filenames []string) (map[string]string, error) {
	prompt, err := c.renderer.Render(templates.CoderPackageTemplate, &templates.PromptData{
		PlanJSON:   planJSON,
		EntryPoint: entryPoint,
		Filenames:  filenames,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	files := c.parser.ParseCodePackage(resp.Content, filenames)
	parsed := make(map[string]string, len(files))
	for name, content := range files {
		if artifacts.IsSourceFile(name) {
			parsed[name] = content
		}
	}
	return parsed, nil
}

func (c *Coder) generateSingleFile(ctx context.Context, planJSON string, plan *artifacts.ArchitecturalPlan, name, entryPoint string, filenames []string) (string, error) {
	data := &templates.PromptData{
		PlanJSON:   planJSON,
		EntryPoint: entryPoint,
		Filenames:  filenames,
		Filename:   name,
	}
	if filePlan, ok := plan.DetailedPlan[name]; ok {
		data.FilePurpose = filePlan.Purpose
		data.FileClasses = filePlan.Classes
		data.FileFunctions = filePlan.Functions
	}

	prompt, err := c.renderer.Render(templates.CoderFileTemplate, data)
	if err != nil {
		return "", err
	}
	resp, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	files := c.parser.ParseCodePackage(resp.Content, []string{name})
	if content, ok := files[name]; ok {
		return content, nil
	}
	// A single-file reply may come back under a guessed name; accept the
	// sole extracted file.
	if len(files) == 1 {
		for _, content := range files {
			return content, nil
		}
	}
	return "", llmerrors.Newf(llmerrors.KindParse, "no usable source extracted for %s", name)
}

func (c *Coder) generateDocs(ctx context.Context, planJSON, entryPoint string, filenames []string) (string, error) {
	prompt, err := c.renderer.Render(templates.CoderDocsTemplate, &templates.PromptData{
		PlanJSON:   planJSON,
		EntryPoint: entryPoint,
		Filenames:  filenames,
	})
	if err != nil {
		return "", err
	}
	resp, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(c.parser.CleanResponse(resp.Content)), nil
}

func (c *Coder) complete(ctx context.Context, prompt string) (llm.CompletionResponse, error) {
	req := llm.NewRequest(systemPrompt, prompt)
	if c.history != nil {
		req = c.history.BuildRequest(systemPrompt, prompt)
	}
	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		if c.transcript != nil {
			c.transcript.LogError(err.Error(), "generate_code")
		}
		return llm.CompletionResponse{}, err
	}
	if c.history != nil {
		c.history.Record(prompt, resp.Content)
	}
	if c.tracker != nil {
		if trackErr := c.tracker.TrackUsage(agent.TypeCoder, resp.Usage); trackErr != nil {
			c.logger.Warn("usage tracking failed: %v", trackErr)
		}
	}
	if c.transcript != nil {
		c.transcript.LogInteraction(prompt, resp.Content, map[string]any{
			"tokens": resp.Usage.TotalTokens,
			"model":  c.client.GetModelName(),
		})
	}
	return resp, nil
}

// StripMainGuard removes an `if __name__ == "__main__":` guard and its
// indented block. Generated entry points must be importable without side
// effects, so the guard has no place in the package.
func StripMainGuard(source string) string {
	loc := mainGuardRe.FindStringIndex(source)
	if loc == nil {
		return source
	}

	head := source[:loc[0]]
	rest := source[loc[1]:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = ""
	}

	// Drop the guard's indented body.
	lines := strings.Split(rest, "\n")
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(lines[i], " ") && !strings.HasPrefix(lines[i], "\t") {
			break
		}
	}
	tail := strings.Join(lines[i:], "\n")
	return strings.TrimRight(head, "\n") + "\n" + strings.TrimLeft(tail, "\n")
}
