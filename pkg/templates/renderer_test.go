package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRendererLoadsAllTemplates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	assert.Len(t, r.AvailableTemplates(), 6)
}

func TestRenderArchitect(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(ArchitectTemplate, &PromptData{Requirements: "a tiny calculator"})
	require.NoError(t, err)
	assert.Contains(t, out, "a tiny calculator")
	assert.Contains(t, out, "EXACTLY 3 components")
	assert.Contains(t, out, `"file_structure"`)
}

func TestRenderCoderPackage(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(CoderPackageTemplate, &PromptData{
		PlanJSON:   `{"analysis": {}}`,
		EntryPoint: "main.py",
		Filenames:  []string{"main.py", "utils.py"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "main.py, utils.py")
	assert.Contains(t, out, `if __name__ == "__main__"`)
	assert.Contains(t, out, `"main.py": "<full source>"`)
}

func TestRenderCoderFileOmitsEmptySections(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(CoderFileTemplate, &PromptData{
		Filename:   "utils.py",
		PlanJSON:   "{}",
		EntryPoint: "main.py",
		Filenames:  []string{"main.py", "utils.py"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "`utils.py`")
	assert.NotContains(t, out, "Classes to define")

	out, err = r.Render(CoderFileTemplate, &PromptData{
		Filename:    "main.py",
		PlanJSON:    "{}",
		EntryPoint:  "main.py",
		Filenames:   []string{"main.py"},
		FileClasses: []string{"App", "Config"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Classes to define: App, Config")
}

func TestRenderDebuggerAttempt(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(DebuggerAttemptTemplate, &PromptData{
		Attempt:      2,
		MaxAttempts:  5,
		CodeFiles:    map[string]string{"main.py": "def f():\n    return 1"},
		TestOutput:   "AssertionError: expected 2",
		AntiPatterns: []string{"renamed f to g"},
		Warnings:     []string{"main.py:3: blocking input() call"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "attempt 2 of 5")
	assert.Contains(t, out, "FILE: main.py")
	assert.Contains(t, out, "AssertionError: expected 2")
	assert.Contains(t, out, "renamed f to g")
	assert.Contains(t, out, "blocking input() call")
	assert.Contains(t, out, "ANALYSIS_START")
}

func TestRenderTester(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(TesterTemplate, &PromptData{
		CodeFiles:    map[string]string{"main.py": "class App:\n    pass"},
		TestFilename: "test_main.py",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "### main.py")
	assert.Contains(t, out, "test_main.py")
	assert.Contains(t, out, ".main_loop()")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	_, err = r.Render(PromptTemplate("missing.tpl.md"), &PromptData{})
	assert.Error(t, err)
}
