// Package metrics provides metrics recording middleware for LLM clients.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, agentName, status, errorKind string,
		promptTokens, completionTokens int,
		duration time.Duration,
	)

	// IncThrottle increments the pacing counter when a call had to wait.
	IncThrottle(model, reason string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics
// are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _, _, _ string, _, _ int, _ time.Duration) {}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {}
