package api

import (
	"context"

	"scholar/pkg/llm"
)

// Tool defines the structural interface for any capability the research
// engine can execute. It includes metadata for model advertisement
// (JSON Schema) and the execution logic itself.
type Tool interface {
	// Name is the unique machine name advertised to the model.
	Name() string

	// Description tells the model what the tool does and when to use it.
	Description() string

	// Parameters returns the JSON Schema "properties" object describing the
	// tool's arguments.
	Parameters() map[string]any

	// RequiredParameters lists the argument names the model must supply.
	RequiredParameters() []string

	// Execute performs the actual tool logic using the decoded argument map.
	// A returned error signals a handler-level failure; it never reaches the
	// user directly.
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult encapsulates the outcome of a successful tool execution.
// Payload is the structured result handed back to the model (JSON-encoded
// inside the success envelope); Details carries technical metadata for
// logging and monitoring only.
type ToolResult struct {
	Payload map[string]any `json:"payload"`
	Details map[string]any `json:"details,omitempty"`
}

// ToolRegistry defines the interface for managing and accessing tools.
// Registration order is preserved and drives schema advertisement order.
type ToolRegistry interface {
	Register(tool Tool) error
	Resolve(name string) (Tool, error)
	Tools() []Tool
	Schemas() []llm.ToolSchema
}
