// Package toolerrors provides structured error types for tool invocation
// failures. ToolError preserves error chains and supports errors.Is/As while
// remaining simple to render inline in a <tool-error> conversation message.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError represents a structured tool failure that preserves message and
// causal context. Tool errors may nest via Cause to retain diagnostics
// across retries and resumed worker results.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying tool error, enabling chains with
	// errors.Is/As.
	Cause *ToolError
	// RetryHint, when non-empty, is surfaced to the model alongside Message
	// so it can self-correct on the next iteration (e.g. "missing required
	// field 'host'"). Supplements spec.md with the retry-hint behavior
	// referenced by the teacher's planner/retryhint_provider.go.
	RetryHint string
}

// New constructs a ToolError with the provided message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause constructs a ToolError wrapping an underlying error.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns a ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Rendered formats the error as the inline <tool-error> string the engine
// appends to the conversation on tool failure (spec.md §4.1, §7).
func (e *ToolError) Rendered() string {
	if e == nil {
		return "<tool-error></tool-error>"
	}
	if e.RetryHint != "" {
		return fmt.Sprintf("<tool-error>%s (hint: %s)</tool-error>", e.Message, e.RetryHint)
	}
	return fmt.Sprintf("<tool-error>%s</tool-error>", e.Message)
}
