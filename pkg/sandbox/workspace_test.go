package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/artifacts"
)

func samplePackage() *artifacts.CodePackage {
	return &artifacts.CodePackage{
		EntryPoint: "main.py",
		Files: map[string]string{
			"main.py":       "print('hello')\n",
			"lib/helper.py": "def helper():\n    return 1\n",
		},
		Plan: &artifacts.ArchitecturalPlan{
			Analysis: artifacts.Analysis{
				Dependencies: []string{"requests", "", "not a package"},
			},
		},
	}
}

func TestWriteProjectRoundTrip(t *testing.T) {
	ws := NewWorkspace(t.TempDir())
	dir, err := ws.WriteProject(samplePackage())
	require.NoError(t, err)
	assert.DirExists(t, dir)

	files, err := ws.ReadBack()
	require.NoError(t, err)
	assert.Equal(t, "print('hello')\n", files["main.py"])
	assert.Equal(t, "def helper():\n    return 1\n", files["lib/helper.py"])

	// Dependencies with spaces are dropped from requirements.txt.
	assert.Equal(t, "requests\n", files[RequirementsFilename])
}

func TestWriteProjectReplacesPreviousContents(t *testing.T) {
	ws := NewWorkspace(t.TempDir())
	_, err := ws.WriteProject(samplePackage())
	require.NoError(t, err)

	stale := filepath.Join(ws.ProjectDir(), "stale.py")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, err = ws.WriteProject(samplePackage())
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestWriteProjectRejectsTraversal(t *testing.T) {
	cp := samplePackage()
	cp.Files["../escape.py"] = "print('nope')"

	ws := NewWorkspace(t.TempDir())
	_, err := ws.WriteProject(cp)
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.KindValidation))
}

func TestWriteProjectRejectsAbsolutePath(t *testing.T) {
	cp := samplePackage()
	cp.Files["/tmp/abs.py"] = "print('nope')"

	ws := NewWorkspace(t.TempDir())
	_, err := ws.WriteProject(cp)
	assert.Error(t, err)
}

func TestCleanupIdempotent(t *testing.T) {
	ws := NewWorkspace(t.TempDir())
	_, err := ws.WriteProject(samplePackage())
	require.NoError(t, err)

	require.NoError(t, ws.Cleanup())
	assert.NoDirExists(t, ws.ProjectDir())
	require.NoError(t, ws.Cleanup())
}

func TestWorkspacesDoNotCollide(t *testing.T) {
	root := t.TempDir()
	a := NewWorkspace(root)
	b := NewWorkspace(root)
	assert.NotEqual(t, a.ProjectDir(), b.ProjectDir())
}
