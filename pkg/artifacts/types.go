// Package artifacts defines the value records passed between pipeline
// stages and the parser that coerces raw model output into them.
//
// Artifacts are immutable by convention: each stage builds a new record
// from the previous one plus a model response and hands it on. Nothing
// here mutates a received artifact in place.
package artifacts

import (
	"sort"
	"strings"
	"time"

	"aicoder/pkg/agent/llmerrors"
)

// Canonical filenames used across the pipeline.
const (
	DefaultEntryPoint = "main.py"
	DefaultTestFile   = "test_main.py"
	DocsFilename      = "README.md"
)

// Analysis is the requirement breakdown inside an ArchitecturalPlan.
type Analysis struct {
	Components       []string `json:"components"`
	Dependencies     []string `json:"dependencies"`
	ArchitectureType string   `json:"architecture_type"`
	Complexity       string   `json:"complexity"`
	Summary          string   `json:"summary"`
}

// FileStructure describes the planned file layout.
type FileStructure struct {
	Files            map[string]string `json:"files"`       // filename -> one-line description
	EntryPoint       string            `json:"entry_point"` // must be a key of Files
	ClassDefinitions map[string]string `json:"class_definitions,omitempty"`
}

// FilePlan is the optional per-file section of a plan.
type FilePlan struct {
	Purpose   string   `json:"purpose"`
	Classes   []string `json:"classes,omitempty"`
	Functions []string `json:"functions,omitempty"`
	KeyLogic  []string `json:"key_logic,omitempty"`
}

// ArchitecturalPlan is the Architect's output. Fallback marks plans
// synthesized after unparseable model output; the orchestrator may treat
// that stage as low confidence.
type ArchitecturalPlan struct {
	Requirements  string              `json:"requirements"`
	Analysis      Analysis            `json:"analysis"`
	FileStructure FileStructure       `json:"file_structure"`
	DetailedPlan  map[string]FilePlan `json:"detailed_plan,omitempty"`
	Timestamp     string              `json:"timestamp"`
	Fallback      bool                `json:"fallback,omitempty"`
}

// SourceFilenames returns the planned source files in stable order, entry
// point first.
func (p *ArchitecturalPlan) SourceFilenames() []string {
	names := make([]string, 0, len(p.FileStructure.Files))
	for name := range p.FileStructure.Files {
		if IsSourceFile(name) && name != p.FileStructure.EntryPoint {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if p.FileStructure.EntryPoint != "" {
		names = append([]string{p.FileStructure.EntryPoint}, names...)
	}
	return names
}

// CodePackage maps filenames to full source text.
type CodePackage struct {
	Files      map[string]string  `json:"files"`
	Plan       *ArchitecturalPlan `json:"architectural_plan,omitempty"`
	EntryPoint string             `json:"entry_point"`
}

// Validate checks the package invariants: a present, non-empty entry point
// and no empty files.
func (cp *CodePackage) Validate() error {
	if cp.EntryPoint == "" {
		return llmerrors.New(llmerrors.KindValidation, "code package has no entry point")
	}
	if _, ok := cp.Files[cp.EntryPoint]; !ok {
		return llmerrors.Newf(llmerrors.KindValidation, "entry point %s missing from code package", cp.EntryPoint)
	}
	for name, content := range cp.Files {
		if strings.TrimSpace(content) == "" {
			return llmerrors.Newf(llmerrors.KindValidation, "file %s is empty", name)
		}
	}
	return nil
}

// Filenames returns the package's filenames sorted.
func (cp *CodePackage) Filenames() []string {
	names := make([]string, 0, len(cp.Files))
	for name := range cp.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Overlay returns a new package with fixed files applied on top of the
// receiver. The receiver is not modified.
func (cp *CodePackage) Overlay(fixed map[string]string) *CodePackage {
	files := make(map[string]string, len(cp.Files)+len(fixed))
	for name, content := range cp.Files {
		files[name] = content
	}
	for name, content := range fixed {
		files[name] = content
	}
	return &CodePackage{
		Files:      files,
		Plan:       cp.Plan,
		EntryPoint: cp.EntryPoint,
	}
}

// TestCaseResult is one test from a machine-readable test report.
type TestCaseResult struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// TestReport is the parsed machine-readable report when the test runner
// produced one.
type TestReport struct {
	Total   int              `json:"total"`
	Passed  int              `json:"passed"`
	Failed  int              `json:"failed"`
	Errors  int              `json:"errors"`
	Skipped int              `json:"skipped,omitempty"`
	Tests   []TestCaseResult `json:"tests,omitempty"`
}

// TestResults is the structured outcome of one sandbox invocation, for
// both whole-program execution and test runs.
type TestResults struct {
	ExitCode   int         `json:"exit_code"`
	Passed     bool        `json:"passed"`
	Stdout     string      `json:"stdout"`
	Stderr     string      `json:"stderr"`
	Output     string      `json:"output"` // stdout + stderr combined
	DurationMS int64       `json:"duration_ms"`
	Timestamp  string      `json:"timestamp"`
	Report     *TestReport `json:"json_report,omitempty"`
}

// TestFailure is one failing test in a TestAnalysis.
type TestFailure struct {
	TestName         string `json:"test_name"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message"`
	TracebackExcerpt string `json:"traceback_excerpt,omitempty"`
}

// TestAnalysis summarizes TestResults for the debugger.
type TestAnalysis struct {
	OverallStatus string        `json:"overall_status"` // "passed" or "failed"
	HasFailures   bool          `json:"has_failures"`
	Failures      []TestFailure `json:"failures"`
	FailureCount  int           `json:"failure_count"`
	TotalCount    int           `json:"total_count,omitempty"`
	PassedCount   int           `json:"passed_count,omitempty"`
	FailedCount   int           `json:"failed_count,omitempty"`
	ErrorCount    int           `json:"error_count,omitempty"`
}

// TestPackage is the Tester's output: the code under test plus results.
type TestPackage struct {
	CodePackage  *CodePackage  `json:"code_package"`
	TestFilePath string        `json:"test_file_path"`
	TestSource   string        `json:"test_source,omitempty"`
	TestResults  *TestResults  `json:"test_results"`
	TestAnalysis *TestAnalysis `json:"test_analysis,omitempty"`
}

// DebugAttempt records one iteration of the debugger's inner loop.
type DebugAttempt struct {
	AttemptIndex    int      `json:"attempt_index"`
	AnalysisSummary string   `json:"analysis_summary"`
	FixedFilenames  []string `json:"fixed_filenames"`
	TestPassed      bool     `json:"test_passed"`
	TestOutputTail  string   `json:"test_output_tail"`
}

// DebugResult is the Debugger's output. Success holds exactly when the
// last attempt's test run passed.
type DebugResult struct {
	Success          bool              `json:"success"`
	FixedCode        map[string]string `json:"fixed_code"`
	Attempts         []DebugAttempt    `json:"attempts"`
	FinalTestResults *TestResults      `json:"final_test_results,omitempty"`
}

// DebugResponse is the parsed form of one debugger model reply.
type DebugResponse struct {
	AnalysisSummary string            `json:"analysis_summary"`
	FixedFiles      map[string]string `json:"fixed_files"`
}

// FailureAnalysis is the parsed form of a failure triage reply.
type FailureAnalysis struct {
	Issues  []string `json:"issues"`
	Summary string   `json:"summary"`
}

// IsSourceFile reports whether name looks like a generated source file.
func IsSourceFile(name string) bool {
	return strings.HasSuffix(name, ".py")
}

// IsDocsFile reports whether name looks like a generated docs file.
func IsDocsFile(name string) bool {
	return strings.HasSuffix(name, ".md")
}

// Now returns the pipeline's canonical timestamp format.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
