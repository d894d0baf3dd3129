// Package agent provides the role taxonomy, the LLM client factory, and
// shared test doubles for the code-generation pipeline.
package agent

import (
	"fmt"
)

// Type identifies one of the four pipeline roles.
type Type string

const (
	// TypeArchitect analyzes requirements and produces the architectural plan.
	TypeArchitect Type = "architect"
	// TypeCoder turns the plan into a code package.
	TypeCoder Type = "coder"
	// TypeTester generates and runs the test suite.
	TypeTester Type = "tester"
	// TypeDebugger repairs failing code in a bounded inner loop.
	TypeDebugger Type = "debugger"
)

// String returns the lowercase role name used in logs, usage entries, and
// persisted rows.
func (t Type) String() string {
	return string(t)
}

// Validate rejects unknown role names.
func (t Type) Validate() error {
	switch t {
	case TypeArchitect, TypeCoder, TypeTester, TypeDebugger:
		return nil
	default:
		return fmt.Errorf("invalid agent type: %s", t)
	}
}

// AllTypes returns the four roles in pipeline order.
func AllTypes() []Type {
	return []Type{TypeArchitect, TypeCoder, TypeTester, TypeDebugger}
}

// ParseType converts a string to a Type, for CLI flags and MCP role
// selection.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}
