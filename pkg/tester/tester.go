// Package tester implements the test generation and execution role: one
// LLM call produces a pytest suite, then the sandbox runs it against the
// generated code.
package tester

import (
	"context"
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

const systemPrompt = "You are a meticulous test engineer. You write pytest suites that run non-interactively and finish quickly."

// Tester generates a pytest suite for a CodePackage and runs it in the
// sandbox.
type Tester struct {
	client      llm.LLMClient
	renderer    *templates.Renderer
	parser      *artifacts.Parser
	tracker     *usage.Tracker
	transcript  *eventlog.Transcript
	workspace   *sandbox.Workspace
	runner      *sandbox.Runner
	execTimeout time.Duration
	history     *agent.History
	logger      *logx.Logger
}

// New creates the tester role. tracker and transcript may be nil in
// tests; recording is skipped.
func New(client llm.LLMClient, renderer *templates.Renderer, tracker *usage.Tracker, transcript *eventlog.Transcript, workspace *sandbox.Workspace, runner *sandbox.Runner, execTimeout time.Duration) *Tester {
	return &Tester{
		client:      client,
		renderer:    renderer,
		parser:      artifacts.NewParser(),
		tracker:     tracker,
		transcript:  transcript,
		workspace:   workspace,
		runner:      runner,
		execTimeout: execTimeout,
		logger:      logx.NewLogger("tester"),
	}
}

// WithMemory attaches the optional conversation window replayed into
// subsequent prompts.
func (t *Tester) WithMemory(h *agent.History) *Tester {
	t.history = h
	return t
}

// GenerateTests produces the test file source for the package. Tests
// that would hang the sandbox are filtered out before the source is
// returned.
func (t *Tester) GenerateTests(ctx context.Context, cp *artifacts.CodePackage) (string, error) {
	if cp == nil {
		return "", llmerrors.New(llmerrors.KindValidation, "nil code package")
	}

	sources := make(map[string]string, len(cp.Files))
	for name, content := range cp.Files {
		if artifacts.IsSourceFile(name) {
			sources[name] = content
		}
	}

	prompt, err := t.renderer.Render(templates.TesterTemplate, &templates.PromptData{
		CodeFiles:    sources,
		TestFilename: artifacts.DefaultTestFile,
	})
	if err != nil {
		return "", err
	}

	req := llm.NewRequest(systemPrompt, prompt)
	if t.history != nil {
		req = t.history.BuildRequest(systemPrompt, prompt)
	}
	resp, err := t.client.Complete(ctx, req)
	if err != nil {
		if t.transcript != nil {
			t.transcript.LogError(err.Error(), "generate_tests")
		}
		return "", err
	}
	t.record(prompt, resp)

	files := t.parser.ParseCodePackage(resp.Content, []string{artifacts.DefaultTestFile})
	source, ok := files[artifacts.DefaultTestFile]
	if !ok {
		// Accept the sole extracted file under any name.
		if len(files) == 1 {
			for _, content := range files {
				source = content
				ok = true
			}
		}
	}
	if !ok || strings.TrimSpace(source) == "" {
		return "", llmerrors.New(llmerrors.KindParse, "no test source extracted from model reply")
	}

	filtered, removed := sandbox.FilterHangingTests(source)
	if len(removed) > 0 {
		t.logger.Warn("filtered %d hanging test(s): %s", len(removed), strings.Join(removed, ", "))
		if t.transcript != nil {
			t.transcript.LogNote("filtered hanging tests: " + strings.Join(removed, ", "))
		}
	}
	return filtered, nil
}

// RunTests writes the package and test file into the workspace, runs
// pytest, and folds the outcome into a TestPackage with structured
// analysis.
func (t *Tester) RunTests(ctx context.Context, cp *artifacts.CodePackage, testSource string) (*artifacts.TestPackage, error) {
	if cp == nil {
		return nil, llmerrors.New(llmerrors.KindValidation, "nil code package")
	}
	if strings.TrimSpace(testSource) == "" {
		return nil, llmerrors.New(llmerrors.KindValidation, "empty test source")
	}

	for _, w := range sandbox.ScanPackage(cp.Files) {
		t.logger.Warn("pre-flight: %s", w.String())
	}

	if _, err := t.workspace.WriteProject(cp); err != nil {
		return nil, err
	}
	if err := t.workspace.WriteFile(artifacts.DefaultTestFile, testSource); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cp.Files)+1)
	for name := range cp.Files {
		names = append(names, name)
	}
	names = append(names, artifacts.DefaultTestFile)
	for _, w := range t.runner.CheckSyntax(ctx, names, t.execTimeout) {
		t.logger.Warn("pre-flight: %s", w.String())
	}

	results, err := t.runner.RunTests(ctx, artifacts.DefaultTestFile, t.execTimeout)
	if err != nil {
		return nil, err
	}

	tp := &artifacts.TestPackage{
		CodePackage:  cp,
		TestFilePath: artifacts.DefaultTestFile,
		TestSource:   testSource,
		TestResults:  results,
		TestAnalysis: Analyze(results),
	}
	t.logger.Info("test run complete: passed=%v exit=%d duration=%dms",
		results.Passed, results.ExitCode, results.DurationMS)
	return tp, nil
}

// Analyze summarizes raw test results for the debugger. With a machine
// readable report the failure list is exact; without one a single
// synthetic failure carries the output tail.
func Analyze(results *artifacts.TestResults) *artifacts.TestAnalysis {
	analysis := &artifacts.TestAnalysis{
		OverallStatus: "passed",
		Failures:      []artifacts.TestFailure{},
	}
	if results.Passed {
		if results.Report != nil {
			analysis.TotalCount = results.Report.Total
			analysis.PassedCount = results.Report.Passed
		}
		return analysis
	}

	analysis.OverallStatus = "failed"
	analysis.HasFailures = true

	if report := results.Report; report != nil {
		analysis.TotalCount = report.Total
		analysis.PassedCount = report.Passed
		analysis.FailedCount = report.Failed
		analysis.ErrorCount = report.Errors
		for _, tc := range report.Tests {
			if tc.Outcome == "passed" || tc.Outcome == "skipped" {
				continue
			}
			analysis.Failures = append(analysis.Failures, artifacts.TestFailure{
				TestName:         tc.Name,
				Status:           tc.Outcome,
				ErrorMessage:     firstLine(tc.Message),
				TracebackExcerpt: tail(tc.Message, 500),
			})
		}
	} else {
		analysis.Failures = append(analysis.Failures, artifacts.TestFailure{
			TestName:         "test run",
			Status:           "failed",
			ErrorMessage:     firstLine(results.Stderr),
			TracebackExcerpt: tail(results.Output, 500),
		})
	}
	analysis.FailureCount = len(analysis.Failures)
	return analysis
}

func (t *Tester) record(prompt string, resp llm.CompletionResponse) {
	if t.history != nil {
		t.history.Record(prompt, resp.Content)
	}
	if t.tracker != nil {
		if err := t.tracker.TrackUsage(agent.TypeTester, resp.Usage); err != nil {
			t.logger.Warn("usage tracking failed: %v", err)
		}
	}
	if t.transcript != nil {
		t.transcript.LogInteraction(prompt, resp.Content, map[string]any{
			"tokens": resp.Usage.TotalTokens,
			"model":  t.client.GetModelName(),
		})
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		return s[:nl]
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
