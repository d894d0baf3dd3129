package sandbox

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/artifacts"
	"aicoder/pkg/logx"
)

// RequirementsFilename is written when the plan lists dependencies.
const RequirementsFilename = "requirements.txt"

// Workspace owns one project directory under the workspace root. Each
// run gets its own uuid-suffixed directory so concurrent runs never
// collide on disk.
type Workspace struct {
	root       string
	projectDir string
	logger     *logx.Logger
}

// NewWorkspace creates a workspace handle rooted at root. Nothing is
// created on disk until WriteProject.
func NewWorkspace(root string) *Workspace {
	return &Workspace{
		root:       root,
		projectDir: filepath.Join(root, "project-"+uuid.NewString()),
		logger:     logx.NewLogger("sandbox"),
	}
}

// ProjectDir returns the project directory path.
func (w *Workspace) ProjectDir() string {
	return w.projectDir
}

// WriteProject deletes and recreates the project directory, then writes
// every file of the package plus an optional requirements.txt derived
// from the plan's dependencies. Returns the project directory path.
func (w *Workspace) WriteProject(cp *artifacts.CodePackage) (string, error) {
	if err := cp.Validate(); err != nil {
		return "", err
	}
	for name := range cp.Files {
		if err := validateFilename(name); err != nil {
			return "", err
		}
	}

	if err := os.RemoveAll(w.projectDir); err != nil {
		return "", llmerrors.Wrap(llmerrors.KindValidation, err, "reset project directory")
	}
	if err := os.MkdirAll(w.projectDir, 0o755); err != nil {
		return "", llmerrors.Wrap(llmerrors.KindValidation, err, "create project directory")
	}

	for name, content := range cp.Files {
		if err := w.WriteFile(name, content); err != nil {
			return "", err
		}
	}

	if reqs := requirementsFrom(cp.Plan); reqs != "" {
		if err := w.WriteFile(RequirementsFilename, reqs); err != nil {
			return "", err
		}
	}

	w.logger.Info("wrote project: %d files in %s", len(cp.Files), w.projectDir)
	return w.projectDir, nil
}

// WriteFile writes one file into the project directory, creating parent
// directories as needed. The filename is validated against traversal.
func (w *Workspace) WriteFile(name, content string) error {
	if err := validateFilename(name); err != nil {
		return err
	}
	path := filepath.Join(w.projectDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return llmerrors.Wrap(llmerrors.KindValidation, err, "create parent directory for "+name)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return llmerrors.Wrap(llmerrors.KindValidation, err, "write "+name)
	}
	return nil
}

// ReadBack reads every regular file under the project directory, keyed
// by slash-separated relative path. Inverse of WriteProject, for
// round-trip verification and final artifact collection.
func (w *Workspace) ReadBack() (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(w.projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.projectDir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindValidation, err, "read back project directory")
	}
	return files, nil
}

// Cleanup removes the project directory. Idempotent: a missing directory
// is not an error.
func (w *Workspace) Cleanup() error {
	if err := os.RemoveAll(w.projectDir); err != nil {
		return llmerrors.Wrap(llmerrors.KindValidation, err, "cleanup project directory")
	}
	return nil
}

// validateFilename rejects absolute paths and any path escaping the
// project directory.
func validateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return llmerrors.New(llmerrors.KindValidation, "empty filename")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return llmerrors.Newf(llmerrors.KindValidation, "absolute filename not allowed: %s", name)
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(name)))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return llmerrors.Newf(llmerrors.KindValidation, "path traversal not allowed: %s", name)
	}
	return nil
}

// requirementsFrom renders the plan's dependency list as a
// requirements.txt body, skipping stdlib-looking entries with spaces.
func requirementsFrom(plan *artifacts.ArchitecturalPlan) string {
	if plan == nil || len(plan.Analysis.Dependencies) == 0 {
		return ""
	}
	var b strings.Builder
	for _, dep := range plan.Analysis.Dependencies {
		dep = strings.TrimSpace(dep)
		if dep == "" || strings.ContainsAny(dep, " \t") {
			continue
		}
		b.WriteString(dep)
		b.WriteByte('\n')
	}
	return b.String()
}
