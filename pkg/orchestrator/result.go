package orchestrator

import (
	"aicoder/pkg/artifacts"
	"aicoder/pkg/usage"
)

// FinalStatus is the run's terminal classification.
type FinalStatus string

const (
	// StatusSuccess means tests pass against the generated code.
	StatusSuccess FinalStatus = "success"
	// StatusFailed means the pipeline completed but tests still fail.
	StatusFailed FinalStatus = "failed"
	// StatusError means a stage aborted the run before a verdict.
	StatusError FinalStatus = "error"
)

// RunResult is the single envelope Run always returns. Artifact fields
// are nil for stages that never ran; Error and Traceback are empty unless
// FinalStatus is error.
type RunResult struct {
	RunID         string                       `json:"run_id"`
	FinalStatus   FinalStatus                  `json:"final_status"`
	Plan          *artifacts.ArchitecturalPlan `json:"architectural_plan,omitempty"`
	CodePackage   *artifacts.CodePackage       `json:"code_package,omitempty"`
	TestResults   *artifacts.TestResults       `json:"test_results,omitempty"`
	DebuggerFixed bool                         `json:"debugger_fixed"`
	DebugResult   *artifacts.DebugResult       `json:"debug_result,omitempty"`
	Error         string                       `json:"error,omitempty"`
	ErrorKind     string                       `json:"error_kind,omitempty"`
	FailedStage   string                       `json:"failed_stage,omitempty"`
	Traceback     string                       `json:"traceback,omitempty"`
	UsageSummary  usage.Stats                  `json:"usage_summary"`
	DurationMS    int64                        `json:"duration_ms"`
}

// Succeeded reports whether the run reached a passing test suite.
func (r *RunResult) Succeeded() bool {
	return r.FinalStatus == StatusSuccess
}
