package tools

import (
	"bytes"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// parameterSchema assembles the full JSON Schema object advertised for a
// tool from its properties and required list.
func parameterSchema(tool Tool) map[string]any {
	props := tool.Parameters()
	if props == nil {
		props = map[string]any{}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := tool.RequiredParameters(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

// compileSchema turns a schema document into a validator. The document is
// round-tripped through JSON so hand-built Go maps and reflected schemas
// both end up in the generic form the compiler expects.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("mem://%s.json", name)
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// ReflectParameters derives the properties map and required list from a
// typed args struct via reflection. Field descriptions and defaults come
// from `jsonschema` struct tags; optional fields are marked with
// `json:",omitempty"`.
func ReflectParameters(v any) (map[string]any, []string) {
	reflector := invopop.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{}, nil
	}

	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return map[string]any{}, nil
	}

	props, _ := full["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}

	var required []string
	if rawReq, ok := full["required"].([]any); ok {
		for _, entry := range rawReq {
			if s, ok := entry.(string); ok {
				required = append(required, s)
			}
		}
	}

	return props, required
}
