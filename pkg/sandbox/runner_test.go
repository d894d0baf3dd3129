package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor replays scripted results and records commands.
type fakeExecutor struct {
	results []Result
	cmds    [][]string
}

func (f *fakeExecutor) Run(_ context.Context, cmd []string, _ Opts) (Result, error) {
	f.cmds = append(f.cmds, cmd)
	idx := len(f.cmds) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func (f *fakeExecutor) Name() string    { return "fake" }
func (f *fakeExecutor) Available() bool { return true }

func preparedWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws := NewWorkspace(t.TempDir())
	_, err := ws.WriteProject(samplePackage())
	require.NoError(t, err)
	return ws
}

func TestExecuteMapsResult(t *testing.T) {
	ws := preparedWorkspace(t)
	fake := &fakeExecutor{results: []Result{{Stdout: "hello\n", ExitCode: 0, Duration: 10 * time.Millisecond}}}

	results, err := NewRunner(ws, fake).Execute(context.Background(), "main.py", time.Second)
	require.NoError(t, err)
	assert.True(t, results.Passed)
	assert.Equal(t, "hello\n", results.Stdout)
	assert.Equal(t, []string{"python3", "main.py"}, fake.cmds[0])
}

func TestExecuteTimeout(t *testing.T) {
	ws := preparedWorkspace(t)
	fake := &fakeExecutor{results: []Result{{ExitCode: -1, TimedOut: true}}}

	results, err := NewRunner(ws, fake).Execute(context.Background(), "main.py", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, results.Passed)
	assert.Equal(t, -1, results.ExitCode)
	assert.Equal(t, "execution timeout after 30s", results.Stderr)
}

func TestRunTestsParsesJSONReport(t *testing.T) {
	ws := preparedWorkspace(t)
	report := `{
		"summary": {"total": 3, "passed": 2, "failed": 1, "error": 0},
		"tests": [
			{"nodeid": "test_main.py::test_ok", "outcome": "passed"},
			{"nodeid": "test_main.py::test_bad", "outcome": "failed", "call": {"longrepr": "AssertionError"}}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(ws.ProjectDir(), reportFilename), []byte(report), 0o644))

	fake := &fakeExecutor{results: []Result{{ExitCode: 1, Stdout: "1 failed, 2 passed"}}}
	results, err := NewRunner(ws, fake).RunTests(context.Background(), "test_main.py", time.Second)
	require.NoError(t, err)

	require.NotNil(t, results.Report)
	assert.Equal(t, 3, results.Report.Total)
	assert.Equal(t, 1, results.Report.Failed)
	assert.False(t, results.Passed)
	assert.Equal(t, "AssertionError", results.Report.Tests[1].Message)

	// First invocation carries the json-report flags.
	assert.Contains(t, fake.cmds[0], "--json-report")
}

func TestRunTestsPluginFallback(t *testing.T) {
	ws := preparedWorkspace(t)
	fake := &fakeExecutor{results: []Result{
		{ExitCode: 4, Stderr: "pytest: error: unrecognized arguments: --json-report"},
		{ExitCode: 0, Stdout: "2 passed"},
	}}

	results, err := NewRunner(ws, fake).RunTests(context.Background(), "test_main.py", time.Second)
	require.NoError(t, err)

	require.Len(t, fake.cmds, 2)
	assert.NotContains(t, fake.cmds[1], "--json-report")
	assert.True(t, results.Passed)
	assert.Nil(t, results.Report)
}

func TestRunTestsTimeout(t *testing.T) {
	ws := preparedWorkspace(t)
	fake := &fakeExecutor{results: []Result{{ExitCode: -1, TimedOut: true, Stdout: "collecting"}}}

	results, err := NewRunner(ws, fake).RunTests(context.Background(), "test_main.py", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, results.Passed)
	assert.Equal(t, "execution timeout after 10s", results.Stderr)
}

func TestCheckSyntaxReportsParseErrors(t *testing.T) {
	ws := preparedWorkspace(t)
	fake := &fakeExecutor{results: []Result{{
		ExitCode: 1,
		Stdout:   "main.py:3: syntax error: invalid syntax\n",
	}}}

	warnings := NewRunner(ws, fake).CheckSyntax(context.Background(),
		[]string{"main.py", "README.md"}, time.Second)

	require.Len(t, warnings, 1)
	assert.Equal(t, "main.py", warnings[0].File)
	assert.Equal(t, 3, warnings[0].Line)
	assert.Contains(t, warnings[0].Message, "invalid syntax")

	// Only the Python file reached the interpreter.
	require.Len(t, fake.cmds, 1)
	assert.Contains(t, fake.cmds[0], "main.py")
	assert.NotContains(t, fake.cmds[0], "README.md")
}

func TestCheckSyntaxCleanPackage(t *testing.T) {
	ws := preparedWorkspace(t)
	fake := &fakeExecutor{results: []Result{{ExitCode: 0}}}

	warnings := NewRunner(ws, fake).CheckSyntax(context.Background(), []string{"main.py"}, time.Second)
	assert.Empty(t, warnings)
}

func TestCheckSyntaxNoPythonFiles(t *testing.T) {
	ws := preparedWorkspace(t)
	fake := &fakeExecutor{results: []Result{{}}}

	warnings := NewRunner(ws, fake).CheckSyntax(context.Background(), []string{"README.md"}, time.Second)
	assert.Nil(t, warnings)
	assert.Empty(t, fake.cmds)
}

func TestRunTestsRejectsTraversal(t *testing.T) {
	ws := preparedWorkspace(t)
	fake := &fakeExecutor{results: []Result{{}}}
	_, err := NewRunner(ws, fake).RunTests(context.Background(), "../outside.py", time.Second)
	assert.Error(t, err)
}
