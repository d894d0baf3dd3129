// Package templates provides prompt rendering for the four pipeline
// roles. Templates are embedded so the binary is self-contained.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// PromptTemplate names one embedded prompt template.
type PromptTemplate string

const (
	// ArchitectTemplate asks for the structured architectural plan.
	ArchitectTemplate PromptTemplate = "architect.tpl.md"
	// CoderPackageTemplate asks for the whole code package as JSON.
	CoderPackageTemplate PromptTemplate = "coder_package.tpl.md"
	// CoderFileTemplate is the per-file fallback prompt.
	CoderFileTemplate PromptTemplate = "coder_file.tpl.md"
	// CoderDocsTemplate asks for the project README.
	CoderDocsTemplate PromptTemplate = "coder_docs.tpl.md"
	// TesterTemplate asks for the pytest suite.
	TesterTemplate PromptTemplate = "tester.tpl.md"
	// DebuggerAttemptTemplate is one debugging iteration's prompt.
	DebuggerAttemptTemplate PromptTemplate = "debugger_attempt.tpl.md"
)

// PromptData holds everything a prompt template may interpolate. Each
// template reads the subset it needs.
type PromptData struct {
	Requirements string            `json:"requirements,omitempty"`
	PlanJSON     string            `json:"plan_json,omitempty"`
	EntryPoint   string            `json:"entry_point,omitempty"`
	Filenames    []string          `json:"filenames,omitempty"`
	CodeFiles    map[string]string `json:"code_files,omitempty"`

	// Per-file fallback.
	Filename      string   `json:"filename,omitempty"`
	FilePurpose   string   `json:"file_purpose,omitempty"`
	FileClasses   []string `json:"file_classes,omitempty"`
	FileFunctions []string `json:"file_functions,omitempty"`

	// Tester and debugger.
	TestFilename string   `json:"test_filename,omitempty"`
	TestOutput   string   `json:"test_output,omitempty"`
	Attempt      int      `json:"attempt,omitempty"`
	MaxAttempts  int      `json:"max_attempts,omitempty"`
	AntiPatterns []string `json:"anti_patterns,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Renderer renders embedded prompt templates.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer loads and parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[PromptTemplate]*template.Template)}

	names := []PromptTemplate{
		ArchitectTemplate,
		CoderPackageTemplate,
		CoderFileTemplate,
		CoderDocsTemplate,
		TesterTemplate,
		DebuggerAttemptTemplate,
	}
	for _, name := range names {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"join": strings.Join,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render renders the named template with the given data.
func (r *Renderer) Render(name PromptTemplate, data *PromptData) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// AvailableTemplates returns the loaded template names.
func (r *Renderer) AvailableTemplates() []PromptTemplate {
	names := make([]PromptTemplate, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}
