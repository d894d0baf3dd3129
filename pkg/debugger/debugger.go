// Package debugger implements the self-healing role: a bounded loop of
// analyze, apply, retest until the suite passes or attempts run out.
package debugger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"aicoder/pkg/agent"
	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/artifacts"
	"aicoder/pkg/eventlog"
	"aicoder/pkg/logx"
	"aicoder/pkg/sandbox"
	"aicoder/pkg/templates"
	"aicoder/pkg/usage"
)

const systemPrompt = "You are a systematic debugger. You find root causes and return complete fixed files in the requested format."

// outputTailLen bounds how much test output is replayed into a prompt.
const outputTailLen = 2000

// attemptTailLen bounds the output tail recorded per attempt.
const attemptTailLen = 500

// state is the inner loop's position within one fix attempt.
type state string

const (
	stateAnalyzing state = "ANALYZING"
	stateApplying  state = "APPLYING"
	stateTesting   state = "TESTING"
	stateDoneOK    state = "DONE_OK"
	stateContinue  state = "CONTINUE"
	stateDoneFail  state = "DONE_FAIL"
)

// Debugger drives the bounded fix loop over a failing TestPackage.
type Debugger struct {
	client      llm.LLMClient
	renderer    *templates.Renderer
	parser      *artifacts.Parser
	tracker     *usage.Tracker
	transcript  *eventlog.Transcript
	workspace   *sandbox.Workspace
	runner      *sandbox.Runner
	maxAttempts int
	execTimeout time.Duration
	history     *agent.History
	logger      *logx.Logger
}

// New creates the debugger role. tracker and transcript may be nil in
// tests; recording is skipped.
func New(client llm.LLMClient, renderer *templates.Renderer, tracker *usage.Tracker, transcript *eventlog.Transcript, workspace *sandbox.Workspace, runner *sandbox.Runner, maxAttempts int, execTimeout time.Duration) *Debugger {
	return &Debugger{
		client:      client,
		renderer:    renderer,
		parser:      artifacts.NewParser(),
		tracker:     tracker,
		transcript:  transcript,
		workspace:   workspace,
		runner:      runner,
		maxAttempts: maxAttempts,
		execTimeout: execTimeout,
		logger:      logx.NewLogger("debugger"),
	}
}

// WithMemory attaches the optional conversation window replayed into
// subsequent prompts.
func (d *Debugger) WithMemory(h *agent.History) *Debugger {
	d.history = h
	return d
}

// FixAndVerify runs the bounded fix loop. When the package carries its
// test source the project is written out first, so the loop also works
// against a fresh workspace in another process; otherwise the project
// and test file must already be on disk from the failing test run.
// Fixed files are overlaid in place and the suite rerun after each
// attempt. The result is populated even when no attempt succeeded; an
// error is returned only for invalid input or an LLM failure that
// survived the retry middleware.
func (d *Debugger) FixAndVerify(ctx context.Context, tp *artifacts.TestPackage) (*artifacts.DebugResult, error) {
	if tp == nil || tp.CodePackage == nil || tp.TestResults == nil {
		return nil, llmerrors.New(llmerrors.KindValidation, "incomplete test package")
	}

	result := &artifacts.DebugResult{
		FixedCode:        map[string]string{},
		Attempts:         []artifacts.DebugAttempt{},
		FinalTestResults: tp.TestResults,
	}
	if tp.TestResults.Passed {
		result.Success = true
		return result, nil
	}

	current := tp.CodePackage
	lastResults := tp.TestResults
	testFile := tp.TestFilePath
	if testFile == "" {
		testFile = artifacts.DefaultTestFile
	}
	if tp.TestSource != "" {
		if _, err := d.workspace.WriteProject(current); err != nil {
			return result, err
		}
		if err := d.workspace.WriteFile(testFile, tp.TestSource); err != nil {
			return result, err
		}
	}
	var antiPatterns []string

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		outcome, err := d.runAttempt(ctx, attempt, current, lastResults, antiPatterns, testFile)
		if outcome.record.AttemptIndex != 0 {
			result.Attempts = append(result.Attempts, outcome.record)
		}
		if err != nil {
			return result, err
		}

		switch outcome.state {
		case stateDoneOK:
			for name, content := range outcome.fixed {
				result.FixedCode[name] = content
			}
			result.Success = true
			result.FinalTestResults = outcome.results
			d.logger.Info("fix verified on attempt %d", attempt)
			return result, nil
		case stateContinue:
			for name, content := range outcome.fixed {
				result.FixedCode[name] = content
			}
			current = current.Overlay(outcome.fixed)
			lastResults = outcome.results
			result.FinalTestResults = outcome.results
			antiPatterns = append(antiPatterns, fmt.Sprintf(
				"attempt %d: %s (still failing)", attempt, summarizeForPrompt(outcome.record.AnalysisSummary)))
		case stateDoneFail:
			// No usable files extracted; reframe rather than repeat.
			antiPatterns = append(antiPatterns, fmt.Sprintf(
				"attempt %d produced no complete files; respond with FILE_START/FILE_END blocks only", attempt))
		}
	}

	d.logger.Warn("debug attempts exhausted after %d tries", d.maxAttempts)
	return result, nil
}

// attemptOutcome carries one iteration's results back to the loop.
type attemptOutcome struct {
	state   state
	record  artifacts.DebugAttempt
	fixed   map[string]string
	results *artifacts.TestResults
}

// runAttempt walks one pass of the inner machine: ANALYZING (prompt and
// parse), APPLYING (overlay fixed files on disk), TESTING (rerun the
// suite). A reply with no extractable files short-circuits to DONE_FAIL
// for this attempt; the loop decides whether to try again.
func (d *Debugger) runAttempt(ctx context.Context, attempt int, current *artifacts.CodePackage, lastResults *artifacts.TestResults, antiPatterns []string, testFile string) (attemptOutcome, error) {
	sources := make(map[string]string, len(current.Files))
	for name, content := range current.Files {
		if artifacts.IsSourceFile(name) {
			sources[name] = content
		}
	}

	var warnings []string
	for _, w := range d.runner.CheckSyntax(ctx, sortedNames(sources), d.execTimeout) {
		warnings = append(warnings, w.String())
	}
	for _, w := range sandbox.ScanPackage(sources) {
		warnings = append(warnings, w.String())
	}

	prompt, err := d.renderer.Render(templates.DebuggerAttemptTemplate, &templates.PromptData{
		CodeFiles:    sources,
		TestOutput:   tail(lastResults.Output, outputTailLen),
		Attempt:      attempt,
		MaxAttempts:  d.maxAttempts,
		AntiPatterns: antiPatterns,
		Warnings:     warnings,
	})
	if err != nil {
		return attemptOutcome{state: stateDoneFail}, err
	}

	req := llm.NewRequest(systemPrompt, prompt)
	if d.history != nil {
		req = d.history.BuildRequest(systemPrompt, prompt)
	}
	resp, err := d.client.Complete(ctx, req)
	if err != nil {
		if d.transcript != nil {
			d.transcript.LogError(err.Error(), fmt.Sprintf("fix_code attempt %d", attempt))
		}
		return attemptOutcome{state: stateDoneFail}, err
	}
	d.record(attempt, prompt, resp)

	parsed := d.parser.ParseDebugResponse(resp.Content)
	fixed := make(map[string]string, len(parsed.FixedFiles))
	for name, content := range parsed.FixedFiles {
		if artifacts.IsSourceFile(name) {
			fixed[name] = content
		}
	}

	record := artifacts.DebugAttempt{
		AttemptIndex:    attempt,
		AnalysisSummary: parsed.AnalysisSummary,
		FixedFilenames:  sortedNames(fixed),
		TestOutputTail:  tail(lastResults.Output, attemptTailLen),
	}

	if len(fixed) == 0 {
		d.logger.Warn("attempt %d: no files extracted from reply", attempt)
		return attemptOutcome{state: stateDoneFail, record: record}, nil
	}

	for name, content := range fixed {
		if err := d.workspace.WriteFile(name, content); err != nil {
			return attemptOutcome{state: stateDoneFail, record: record}, err
		}
	}

	results, err := d.runner.RunTests(ctx, testFile, d.execTimeout)
	if err != nil {
		return attemptOutcome{state: stateDoneFail, record: record}, err
	}

	record.TestPassed = results.Passed
	record.TestOutputTail = tail(results.Output, attemptTailLen)

	outcome := attemptOutcome{record: record, fixed: fixed, results: results}
	if results.Passed {
		outcome.state = stateDoneOK
	} else {
		outcome.state = stateContinue
	}
	return outcome, nil
}

func (d *Debugger) record(attempt int, prompt string, resp llm.CompletionResponse) {
	if d.history != nil {
		d.history.Record(prompt, resp.Content)
	}
	if d.tracker != nil {
		if err := d.tracker.TrackUsage(agent.TypeDebugger, resp.Usage, usage.WithIteration(attempt)); err != nil {
			d.logger.Warn("usage tracking failed: %v", err)
		}
	}
	if d.transcript != nil {
		d.transcript.LogInteraction(prompt, resp.Content, map[string]any{
			"tokens":    resp.Usage.TotalTokens,
			"model":     d.client.GetModelName(),
			"iteration": attempt,
		})
	}
}

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func summarizeForPrompt(s string) string {
	s = strings.TrimSpace(s)
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[:nl]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
