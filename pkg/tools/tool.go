package tools

import (
	"sync"

	"scholar/pkg/api"
	"scholar/pkg/llm"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Re-export the contract types from the api package so tool implementations
// and the engine share one vocabulary.
type Tool = api.Tool
type ToolResult = api.ToolResult

// registeredTool bundles a tool with its advertised schema and the compiled
// validator derived from it at registration time.
type registeredTool struct {
	tool      Tool
	schema    llm.ToolSchema
	validator *jsonschema.Schema
}

// Registry acts as the central inventory for all capabilities available to
// the research engine. Registration order is preserved: the model sees the
// tools in exactly the order they were registered, and duplicate names are
// rejected. After startup the registry is read-only and safe for concurrent
// readers.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*registeredTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool. The tool's parameter schema is compiled immediately;
// a schema that does not compile is a registration error, as is a name that
// is already taken.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return newToolError(name, "", ErrDuplicateTool)
	}

	schema := llm.ToolSchema{
		Name:        name,
		Description: tool.Description(),
		Parameters:  parameterSchema(tool),
	}

	validator, err := compileSchema(name, schema.Parameters)
	if err != nil {
		return newToolError(name, "", err)
	}

	r.tools[name] = &registeredTool{
		tool:      tool,
		schema:    schema,
		validator: validator,
	}
	r.order = append(r.order, name)
	return nil
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tools[name]
	if !ok {
		return nil, newToolError(name, "", ErrUnknownTool)
	}
	return entry.tool, nil
}

// Tools returns all registered tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name].tool)
	}
	return result
}

// Schemas returns the capability advertisements in registration order.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name].schema)
	}
	return result
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// lookup returns the full registration entry, validator included.
func (r *Registry) lookup(name string) (*registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry, ok
}
