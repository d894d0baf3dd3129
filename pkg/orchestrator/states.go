package orchestrator

import "fmt"

// State is one position of the pipeline state machine.
type State string

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// State constants - single source of truth for pipeline state names.
const (
	StateArch    State = "ARCH"
	StateCode    State = "CODE"
	StateTest    State = "TEST"
	StateDebug   State = "DEBUG"
	StateSuccess State = "SUCCESS"
	StateFailed  State = "FAILED"
	StateError   State = "ERROR"
)

// Transitions is the canonical transition map for the pipeline. Any code
// or test asserting pipeline order must match this map exactly.
var Transitions = map[State][]State{
	// ARCH produces the plan, or aborts the run.
	StateArch: {StateCode, StateError},

	// CODE produces the code package, or aborts the run.
	StateCode: {StateTest, StateError},

	// TEST can pass (→SUCCESS), fail (→DEBUG), or abort on a non-recoverable
	// error (→ERROR). A test generation parse failure skips debugging (→FAILED).
	StateTest: {StateSuccess, StateDebug, StateFailed, StateError},

	// DEBUG can verify a fix (→SUCCESS), exhaust its attempts (→FAILED), or
	// abort (→ERROR).
	StateDebug: {StateSuccess, StateFailed, StateError},

	// Terminals.
	StateSuccess: {},
	StateFailed:  {},
	StateError:   {},
}

// ValidStates returns every pipeline state.
func ValidStates() []State {
	return []State{StateArch, StateCode, StateTest, StateDebug, StateSuccess, StateFailed, StateError}
}

// ValidateState checks that a state belongs to the pipeline machine.
func ValidateState(state State) error {
	for _, s := range ValidStates() {
		if state == s {
			return nil
		}
	}
	return fmt.Errorf("invalid pipeline state: %s", state)
}

// IsValidTransition checks a transition against the canonical map.
func IsValidTransition(from, to State) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state ends the run.
func IsTerminal(state State) bool {
	return state == StateSuccess || state == StateFailed || state == StateError
}
