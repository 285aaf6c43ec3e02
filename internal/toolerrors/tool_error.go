// Package toolerrors provides the structured error type the Execution
// Adapter and its collaborators return for tool-invocation failures.
// ToolError preserves a causal chain and supports errors.Is/As while
// carrying the reproduction context §7 requires on every user-visible
// message: tool name, subcommand path and working directory.
package toolerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ToolError is a structured tool failure. Cause links to an underlying
// ToolError so the chain survives across retries and composite-sequence
// steps while still implementing error via Unwrap.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Tool, SubcommandPath and WorkingDir are the reproduction context §7
	// requires on every user-visible error.
	Tool           string
	SubcommandPath []string
	WorkingDir     string
	// Cause links to the underlying tool error.
	Cause *ToolError
}

// New constructs a ToolError with the given message and no context.
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

// WithContext returns a copy of e carrying the given reproduction context
// (§7: "tool name, the subcommand path, the working directory").
func (e *ToolError) WithContext(tool string, subcommandPath []string, workingDir string) *ToolError {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Tool = tool
	cp.SubcommandPath = subcommandPath
	cp.WorkingDir = workingDir
	return &cp
}

// FromError converts an arbitrary error into a ToolError chain, reusing an
// existing ToolError found anywhere in err's chain instead of wrapping it
// again.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Error implements the error interface, appending the reproduction context
// when present.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Tool != "" {
		fmt.Fprintf(&b, " (tool=%s", e.Tool)
		if len(e.SubcommandPath) > 0 {
			fmt.Fprintf(&b, " subcommand=%s", strings.Join(e.SubcommandPath, " "))
		}
		if e.WorkingDir != "" {
			fmt.Fprintf(&b, " working_dir=%s", e.WorkingDir)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying tool error, supporting errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
