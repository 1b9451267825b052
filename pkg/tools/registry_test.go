package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a minimal configurable Tool for registry and executor tests.
type fakeTool struct {
	name     string
	desc     string
	params   map[string]any
	required []string
	execute  func(ctx context.Context, args map[string]any) (*ToolResult, error)
}

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return f.desc }
func (f *fakeTool) Parameters() map[string]any   { return f.params }
func (f *fakeTool) RequiredParameters() []string { return f.required }

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	if f.execute != nil {
		return f.execute(ctx, args)
	}
	return &ToolResult{Payload: map[string]any{"ok": true}}, nil
}

func echoTool(name string) *fakeTool {
	return &fakeTool{
		name:   name,
		desc:   "echoes its arguments",
		params: map[string]any{"text": map[string]any{"type": "string"}},
		execute: func(_ context.Context, args map[string]any) (*ToolResult, error) {
			return &ToolResult{Payload: map[string]any{"echo": args["text"]}}, nil
		},
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))
	require.Equal(t, 1, reg.Len())

	tool, err := reg.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", tool.Name())

	_, err = reg.Resolve("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))

	err := reg.Register(echoTool("echo"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_PreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, reg.Register(echoTool(name)))
	}

	var got []string
	for _, tool := range reg.Tools() {
		got = append(got, tool.Name())
	}
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, got)

	got = got[:0]
	for _, schema := range reg.Schemas() {
		got = append(got, schema.Name)
	}
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, got)
}

func TestRegistry_SchemaShape(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{
		name:     "lookup",
		desc:     "looks things up",
		params:   map[string]any{"query": map[string]any{"type": "string"}},
		required: []string{"query"},
	}))

	schemas := reg.Schemas()
	require.Len(t, schemas, 1)
	schema := schemas[0]
	assert.Equal(t, "lookup", schema.Name)
	assert.Equal(t, "looks things up", schema.Description)
	assert.Equal(t, "object", schema.Parameters["type"])
	assert.Contains(t, schema.Parameters, "properties")
	assert.Equal(t, []string{"query"}, schema.Parameters["required"])
}

func TestRegistry_RejectsUncompilableSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&fakeTool{
		name:   "broken",
		params: map[string]any{"x": map[string]any{"type": "bogus"}},
	})
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestReflectParameters(t *testing.T) {
	type args struct {
		Query string `json:"query" jsonschema_description:"What to look for"`
		Limit int    `json:"limit,omitempty" jsonschema:"default=5"`
	}

	props, required := ReflectParameters(args{})
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
	assert.Equal(t, []string{"query"}, required)

	q, ok := props["query"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "What to look for", q["description"])
}

func TestDecodeArgs_WeakTyping(t *testing.T) {
	type args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}

	var parsed args
	// JSON numbers arrive as float64; the decoder must still fill the int.
	err := DecodeArgs(map[string]any{"query": "llms", "limit": float64(3)}, &parsed)
	require.NoError(t, err)
	assert.Equal(t, "llms", parsed.Query)
	assert.Equal(t, 3, parsed.Limit)
}
