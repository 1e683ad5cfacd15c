package chat

import "sort"

// Tool describes a capability the harness executes on the agent's behalf.
// Parameters holds a JSON-schema object ({"type":"object","properties":…,
// "required":…}); it is rendered as text for the agent, never sent as a
// structured part.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Param is one named parameter extracted from the tool's schema.
type Param struct {
	Name     string
	Type     string
	Required bool
}

// Params returns the tool's parameters in deterministic (sorted) order.
// Schema entries without a "type" default to "any".
func (t Tool) Params() []Param {
	props, _ := t.Parameters["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}

	required := map[string]bool{}
	switch req := t.Parameters["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, r := range req {
			required[r] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Param, 0, len(names))
	for _, name := range names {
		typ := "any"
		if spec, ok := props[name].(map[string]any); ok {
			if s, ok := spec["type"].(string); ok && s != "" {
				typ = s
			}
		}
		params = append(params, Param{Name: name, Type: typ, Required: required[name]})
	}
	return params
}
