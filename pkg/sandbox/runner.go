package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"aicoder/pkg/artifacts"
	"aicoder/pkg/logx"
)

// reportFilename is where pytest's json-report plugin drops its output.
const reportFilename = ".report.json"

// Runner executes generated code and test suites inside a workspace.
type Runner struct {
	workspace *Workspace
	executor  Executor
	logger    *logx.Logger
}

// NewRunner creates a runner over the given workspace and executor.
func NewRunner(workspace *Workspace, executor Executor) *Runner {
	return &Runner{
		workspace: workspace,
		executor:  executor,
		logger:    logx.NewLogger("sandbox"),
	}
}

// Execute runs `python3 <entry>` in the project directory under the
// given wall-clock timeout.
func (r *Runner) Execute(ctx context.Context, entry string, timeout time.Duration) (*artifacts.TestResults, error) {
	if err := validateFilename(entry); err != nil {
		return nil, err
	}
	result, err := r.executor.Run(ctx, []string{"python3", entry}, Opts{
		WorkDir: r.workspace.ProjectDir(),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return r.toTestResults(result, timeout, nil), nil
}

// RunTests invokes pytest on the given test file with the json-report
// plugin. When the plugin is unavailable the run is repeated plainly and
// pass/fail derives from the exit code alone.
func (r *Runner) RunTests(ctx context.Context, testFile string, timeout time.Duration) (*artifacts.TestResults, error) {
	if err := validateFilename(testFile); err != nil {
		return nil, err
	}

	reportPath := filepath.Join(r.workspace.ProjectDir(), reportFilename)
	_ = os.Remove(reportPath)

	cmd := []string{
		"python3", "-m", "pytest", testFile, "-v",
		"--json-report", "--json-report-file=" + reportFilename,
	}
	result, err := r.executor.Run(ctx, cmd, Opts{
		WorkDir: r.workspace.ProjectDir(),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	if pluginMissing(result) {
		r.logger.Warn("pytest json-report plugin unavailable, rerunning plainly")
		result, err = r.executor.Run(ctx, []string{"python3", "-m", "pytest", testFile, "-v"}, Opts{
			WorkDir: r.workspace.ProjectDir(),
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
	}

	report := r.readReport(reportPath)
	return r.toTestResults(result, timeout, report), nil
}

// syntaxCheckScript parses each file named on the command line and
// prints one "file:line: message" per syntax error.
const syntaxCheckScript = `import ast, sys
bad = 0
for name in sys.argv[1:]:
    try:
        with open(name, encoding="utf-8") as f:
            ast.parse(f.read(), name)
    except SyntaxError as e:
        print("%s:%d: syntax error: %s" % (name, e.lineno or 0, e.msg))
        bad = 1
sys.exit(bad)
`

// CheckSyntax parses the named Python files in the project directory
// and returns a Warning per file that yields no parse tree. A missing
// interpreter or a timed-out check yields no warnings; like the rest
// of the pre-flight scan, this never aborts a run.
func (r *Runner) CheckSyntax(ctx context.Context, files []string, timeout time.Duration) []Warning {
	var names []string
	for _, name := range files {
		if strings.HasSuffix(name, ".py") && validateFilename(name) == nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	cmd := append([]string{"python3", "-c", syntaxCheckScript}, names...)
	result, err := r.executor.Run(ctx, cmd, Opts{
		WorkDir: r.workspace.ProjectDir(),
		Timeout: timeout,
	})
	if err != nil || result.TimedOut {
		return nil
	}
	return parseSyntaxWarnings(result.Stdout)
}

// parseSyntaxWarnings reads the file:line: message lines the syntax
// check prints. Anything else on stdout is ignored.
func parseSyntaxWarnings(out string) []Warning {
	var warnings []Warning
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		lineno, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		warnings = append(warnings, Warning{
			File:    parts[0],
			Line:    lineno,
			Message: strings.TrimSpace(parts[2]),
		})
	}
	return warnings
}

// pluginMissing detects the two shapes of a missing json-report plugin:
// pytest usage error (exit 4) or an explicit unrecognized-arguments line.
func pluginMissing(result Result) bool {
	if result.TimedOut {
		return false
	}
	combined := result.Stdout + result.Stderr
	if strings.Contains(combined, "unrecognized arguments") && strings.Contains(combined, "--json-report") {
		return true
	}
	return result.ExitCode == 4 && strings.Contains(combined, "--json-report")
}

// toTestResults folds a raw subprocess result into the pipeline artifact.
func (r *Runner) toTestResults(result Result, timeout time.Duration, report *artifacts.TestReport) *artifacts.TestResults {
	out := &artifacts.TestResults{
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		Output:     result.Stdout + result.Stderr,
		DurationMS: result.Duration.Milliseconds(),
		Timestamp:  artifacts.Now(),
		Report:     report,
	}
	if result.TimedOut {
		out.ExitCode = -1
		out.Passed = false
		out.Stderr = fmt.Sprintf("execution timeout after %ds", int(timeout.Seconds()))
		out.Output = out.Stdout + out.Stderr
		return out
	}
	if report != nil {
		out.Passed = report.Failed == 0 && report.Errors == 0 && report.Total > 0
	} else {
		out.Passed = result.ExitCode == 0
	}
	return out
}

// pytestReport mirrors the subset of the json-report schema we read.
type pytestReport struct {
	Summary struct {
		Total  int `json:"total"`
		Passed int `json:"passed"`
		Failed int `json:"failed"`
		Error  int `json:"error"`
		Skip   int `json:"skipped"`
	} `json:"summary"`
	Tests []struct {
		NodeID   string `json:"nodeid"`
		Outcome  string `json:"outcome"`
		CallInfo struct {
			Longrepr string `json:"longrepr"`
		} `json:"call"`
	} `json:"tests"`
}

// readReport parses the json-report file when present. A missing or
// malformed report is not an error; pass/fail falls back to exit code.
func (r *Runner) readReport(path string) *artifacts.TestReport {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var raw pytestReport
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Warn("unreadable pytest report at %s: %v", path, err)
		return nil
	}

	report := &artifacts.TestReport{
		Total:   raw.Summary.Total,
		Passed:  raw.Summary.Passed,
		Failed:  raw.Summary.Failed,
		Errors:  raw.Summary.Error,
		Skipped: raw.Summary.Skip,
	}
	for i := range raw.Tests {
		report.Tests = append(report.Tests, artifacts.TestCaseResult{
			Name:    raw.Tests[i].NodeID,
			Outcome: raw.Tests[i].Outcome,
			Message: raw.Tests[i].CallInfo.Longrepr,
		})
	}
	return report
}
