package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"aicoder/pkg/architect"
	"aicoder/pkg/artifacts"
	"aicoder/pkg/coder"
	"aicoder/pkg/debugger"
	"aicoder/pkg/tester"
)

// Role names accepted by ToolsFor and the -role flag.
const (
	RoleArchitect = "architect"
	RoleCoder     = "coder"
	RoleTester    = "tester"
	RoleDebugger  = "debugger"
)

// stringSchema is the input schema for a single required string field.
func stringSchema(field, description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{"type": "string", "description": description},
		},
		"required": []string{field},
	}
}

// ArchitectTools exposes plan creation.
func ArchitectTools(a *architect.Architect) []Tool {
	return []Tool{{
		Name:        "create_architecture",
		Description: "Analyze requirements and create a complete architectural plan",
		InputSchema: stringSchema("requirements", "Natural language description of software requirements"),
		Handler: func(ctx context.Context, args map[string]json.RawMessage) (string, error) {
			requirements, err := stringArg(args, "requirements")
			if err != nil {
				return "", err
			}
			plan, err := a.CreateArchitecture(ctx, requirements)
			if err != nil {
				return "", err
			}
			return marshalArtifact(plan)
		},
	}}
}

// CoderTools exposes code generation from a plan.
func CoderTools(c *coder.Coder) []Tool {
	return []Tool{{
		Name:        "generate_code",
		Description: "Generate a code package from an architectural plan",
		InputSchema: stringSchema("architectural_plan", "Architectural plan JSON from the architect"),
		Handler: func(ctx context.Context, args map[string]json.RawMessage) (string, error) {
			var plan artifacts.ArchitecturalPlan
			if err := artifactArg(args, "architectural_plan", &plan); err != nil {
				return "", err
			}
			cp, err := c.Generate(ctx, &plan)
			if err != nil {
				return "", err
			}
			return marshalArtifact(cp)
		},
	}}
}

// TesterTools exposes test generation and execution.
func TesterTools(t *tester.Tester) []Tool {
	return []Tool{
		{
			Name:        "generate_tests",
			Description: "Generate a pytest suite for a code package",
			InputSchema: stringSchema("code_package", "Code package JSON from the coder"),
			Handler: func(ctx context.Context, args map[string]json.RawMessage) (string, error) {
				var cp artifacts.CodePackage
				if err := artifactArg(args, "code_package", &cp); err != nil {
					return "", err
				}
				testSource, err := t.GenerateTests(ctx, &cp)
				if err != nil {
					return "", err
				}
				return marshalArtifact(map[string]string{
					"test_code":      testSource,
					"test_file_path": artifacts.DefaultTestFile,
				})
			},
		},
		{
			Name:        "run_tests",
			Description: "Write a code package and test suite to the sandbox and run pytest",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code_package": map[string]any{"type": "string", "description": "Code package JSON from the coder"},
					"test_source":  map[string]any{"type": "string", "description": "Generated pytest suite source"},
				},
				"required": []string{"code_package", "test_source"},
			},
			Handler: func(ctx context.Context, args map[string]json.RawMessage) (string, error) {
				var cp artifacts.CodePackage
				if err := artifactArg(args, "code_package", &cp); err != nil {
					return "", err
				}
				testSource, err := stringArg(args, "test_source")
				if err != nil {
					return "", err
				}
				tp, err := t.RunTests(ctx, &cp, testSource)
				if err != nil {
					return "", err
				}
				return marshalArtifact(tp)
			},
		},
	}
}

// DebuggerTools exposes the fix-and-verify loop.
func DebuggerTools(d *debugger.Debugger) []Tool {
	return []Tool{{
		Name:        "fix_code",
		Description: "Analyze failing test results and fix the code until tests pass",
		InputSchema: stringSchema("test_package", "Test package JSON with code, test file, and failing results"),
		Handler: func(ctx context.Context, args map[string]json.RawMessage) (string, error) {
			var tp artifacts.TestPackage
			if err := artifactArg(args, "test_package", &tp); err != nil {
				return "", err
			}
			dr, err := d.FixAndVerify(ctx, &tp)
			if err != nil {
				return "", err
			}
			return marshalArtifact(dr)
		},
	}}
}

// stringArg extracts a required plain string argument.
func stringArg(args map[string]json.RawMessage, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("argument %q is not a string: %w", key, err)
	}
	return s, nil
}

// artifactArg decodes an artifact argument. Artifacts travel as JSON
// strings, but inline objects are accepted too.
func artifactArg(args map[string]json.RawMessage, key string, v any) error {
	raw, ok := args[key]
	if !ok {
		return fmt.Errorf("missing argument %q", key)
	}
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("argument %q is not a JSON string: %w", key, err)
		}
		raw = json.RawMessage(inner)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("argument %q does not decode: %w", key, err)
	}
	return nil
}

func marshalArtifact(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(body), nil
}
