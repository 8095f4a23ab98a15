// Package toolerrors provides structured error types for tool invocation
// failures. ToolError preserves error chains and supports errors.Is/As while
// remaining trivially JSON-serializable for transmission back to the model.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError represents a structured tool failure that preserves message and
// causal context while still implementing the standard error interface.
type ToolError struct {
	Message string     `json:"error"`
	Cause   *ToolError `json:"cause,omitempty"`
}

// New constructs a ToolError with the given message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// Errorf formats according to a format specifier and returns a ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// NewWithCause constructs a ToolError that wraps an underlying error.
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

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying cause, supporting errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Unknown tool / bad args helpers — these are the two protocol-error shapes
// the agent loop must recognize when dispatching model-emitted tool calls
// (spec §7, Protocol errors).

// UnknownTool returns a ToolError for a tool call naming an unregistered tool.
func UnknownTool(name string) *ToolError {
	return Errorf("unknown tool: %s", name)
}

// BadArgs returns a ToolError for a tool call whose arguments failed
// validation or decoding.
func BadArgs(name string, cause error) *ToolError {
	return NewWithCause(fmt.Sprintf("bad args for %s", name), cause)
}
