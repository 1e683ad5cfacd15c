package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

// generateSchema creates a JSON schema from a Go type using struct tags.
//
// Supported tags:
//   - json:"name" - Parameter name
//   - json:",omitempty" - Optional parameter
//   - jsonschema:"required" - Explicitly mark as required
//   - jsonschema:"description=..." - Parameter description
//   - jsonschema:"default=..." - Default value
//   - jsonschema:"minimum=N,maximum=M" - Numeric constraints
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		// Use jsonschema tags to determine required fields
		RequiredFromJSONSchemaTags: true,

		// Don't add $ref for definitions (inline everything)
		ExpandedStruct: true,

		// Don't add $schema and $id
		DoNotReference: true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}
	delete(schemaMap, "$schema")
	delete(schemaMap, "$id")

	return schemaMap, nil
}

// mustSchema panics on reflection failure; argument structs are fixed at
// compile time, so a failure here is a programming error.
func mustSchema[T any]() map[string]any {
	schema, err := generateSchema[T]()
	if err != nil {
		panic(fmt.Sprintf("tools: failed to generate schema: %v", err))
	}
	return schema
}

var schemaCache sync.Map

// validateArgs checks raw tool arguments against a generated schema before
// any manual checks run, so type errors surface with schema-level messages.
// Arguments are round-tripped through JSON so non-JSON Go values (ints from
// in-process callers) normalise before validation.
func validateArgs(toolName string, schema map[string]any, args map[string]any) error {
	compiled, err := compileSchema(toolName, schema)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func compileSchema(name string, schema map[string]any) (*schemavalidate.Schema, error) {
	if cached, ok := schemaCache.Load(name); ok {
		if compiled, ok := cached.(*schemavalidate.Schema); ok {
			return compiled, nil
		}
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiled, err := schemavalidate.CompileString(name+".schema.json", string(data))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(name, compiled)
	return compiled, nil
}

// decodeArgs round-trips raw arguments through JSON into the typed
// argument struct.
func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}

// parameterList flattens an object schema into the card-friendly parameter
// view.
func parameterList(schema map[string]any) []ToolParameter {
	properties, _ := schema["properties"].(map[string]any)
	if len(properties) == 0 {
		return nil
	}

	required := map[string]bool{}
	if reqs, ok := schema["required"].([]any); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]ToolParameter, 0, len(properties))
	for name, raw := range properties {
		prop, _ := raw.(map[string]any)
		p := ToolParameter{Name: name, Required: required[name]}
		if t, ok := prop["type"].(string); ok {
			p.Type = t
		}
		if d, ok := prop["description"].(string); ok {
			p.Description = d
		}
		if def, ok := prop["default"]; ok {
			p.Default = def
		}
		if enums, ok := prop["enum"].([]any); ok {
			for _, e := range enums {
				if s, ok := e.(string); ok {
					p.Enum = append(p.Enum, s)
				}
			}
		}
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}
