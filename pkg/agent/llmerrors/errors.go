// Package llmerrors provides structured error classification for the
// code-generation pipeline: LLM transport failures, parser fallbacks,
// sandbox timeouts, and validation errors all map onto one Kind enum.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Kind represents the failure category of a pipeline error.
type Kind int8

const (
	// Retryable kinds (the transport retries these with backoff).

	// KindRateLimit represents an in-flight HTTP 429 / quota response.
	KindRateLimit Kind = iota
	// KindTimeout represents a per-attempt request timeout.
	KindTimeout

	// Terminal kinds (bubble to the orchestrator as stage failures).

	// KindConfig represents missing credentials or endpoint; fatal at startup.
	KindConfig
	// KindTransport represents network or provider failure: 4xx other than
	// 429, 5xx, malformed response body, or timeout exhaustion.
	KindTransport
	// KindRateLimitExhausted represents a 429 persisting through all retries.
	KindRateLimitExhausted
	// KindParse represents LLM output that no parse strategy could coerce;
	// recovered in-stage with a documented fallback skeleton.
	KindParse
	// KindExecutionTimeout represents a sandbox subprocess exceeding its
	// wall-clock budget; surfaced as a test failure, not a run failure.
	KindExecutionTimeout
	// KindValidation represents invalid input to an operation (empty prompt,
	// negative token count, missing fixed-code package).
	KindValidation
	// KindCancellation represents user-initiated cancellation.
	KindCancellation
	// KindUnknown is the default for unclassified errors.
	KindUnknown
)

// String returns the snake_case name used in logs, metrics, and RunResult.
func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindRateLimitExhausted:
		return "rate_limit_exhausted"
	case KindParse:
		return "parse"
	case KindExecutionTimeout:
		return "execution_timeout"
	case KindValidation:
		return "validation"
	case KindCancellation:
		return "cancellation"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified pipeline error with optional transport metadata.
type Error struct {
	Err        error  // Wrapped underlying error
	Message    string // Human-readable message
	BodyStub   string // First portion of a response body (guards PII)
	Kind       Kind   // Classified failure category
	StatusCode int    // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s error: %s", e.Kind.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Kind.String(), e.Err)
	}
	return fmt.Sprintf("%s error: status %d", e.Kind.String(), e.StatusCode)
}

// Unwrap returns the underlying error for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the transport should retry this error.
// Only rate limits and per-attempt timeouts are retryable; every other
// kind propagates after the first occurrence.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTimeout
}

// Is checks whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or KindUnknown when unclassified.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancellation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Retryable reports whether err may be retried by the transport.
func Retryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.IsRetryable()
	}
	// A bare deadline error from the HTTP client counts as a timeout.
	return errors.Is(err, context.DeadlineExceeded)
}

// New creates a classified error from a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStatus creates a classified error carrying an HTTP status code.
func WithStatus(kind Kind, statusCode int, message string) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Message: message}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Err: cause, Message: message}
}

// Exhausted converts the last retryable error into its terminal kind after
// the retry budget is spent: 429 becomes KindRateLimitExhausted, everything
// else becomes KindTransport.
func Exhausted(last error, attempts int) *Error {
	kind := KindTransport
	if Is(last, KindRateLimit) {
		kind = KindRateLimitExhausted
	}
	return &Error{
		Kind:    kind,
		Err:     last,
		Message: fmt.Sprintf("request failed after %d attempts", attempts),
	}
}

// Canceled wraps a context cancellation into a classified error.
func Canceled(cause error) *Error {
	return &Error{Kind: KindCancellation, Err: cause, Message: "canceled by caller"}
}

// SanitizePrompt creates a safe representation of a prompt for logging.
// Large prompts show first/last portions plus a hash for correlation.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}

	first := prompt[:halfMax]
	last := prompt[len(prompt)-halfMax:]

	hash := sha256.Sum256([]byte(prompt))
	hashStr := fmt.Sprintf("%x", hash)[:16]

	return fmt.Sprintf("%s...[%d chars, hash:%s]...%s", first, len(prompt), hashStr, last)
}
