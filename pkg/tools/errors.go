package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors of the tool layer. Wrapped errors stay errors.Is friendly.
var (
	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrUnknownTool is returned when resolving a name nobody registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when a call's argument payload fails
	// schema validation.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ToolError decorates a sentinel with the tool name and, when available,
// the originating call id.
type ToolError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolError) Error() string {
	if e.CallID != "" {
		return fmt.Sprintf("tool %q (call %s): %v", e.Tool, e.CallID, e.Err)
	}
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func newToolError(tool, callID string, err error) *ToolError {
	return &ToolError{Tool: tool, CallID: callID, Err: err}
}
