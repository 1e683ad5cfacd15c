package llms

import (
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/wuTims/tau2-bench-agent/pkg/chat"
)

func TestNewGeminiProviderRequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(Config{Provider: ProviderGemini, Model: "gemini-2.0-flash"})
	if err == nil {
		t.Fatal("NewGeminiProvider() expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "API key is required") {
		t.Errorf("NewGeminiProvider() error = %v, want API key message", err)
	}
}

func TestNewGeminiProvider(t *testing.T) {
	provider, err := NewGeminiProvider(Config{
		Provider: ProviderGemini,
		Model:    "gemini-2.0-flash",
		APIKey:   "test-key",
	})
	if err != nil {
		t.Fatalf("NewGeminiProvider() error = %v", err)
	}
	if provider.GetModelName() != "gemini-2.0-flash" {
		t.Errorf("GetModelName() = %q, want gemini-2.0-flash", provider.GetModelName())
	}
	if err := provider.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestConvertToGeminiContents(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "Policy line one."},
		{Role: RoleSystem, Content: "Policy line two."},
		{Role: RoleUser, Content: "Check my balance"},
		{Role: RoleAssistant, ToolCalls: []chat.ToolCall{{
			ID:        "call-1",
			Name:      "get_balance",
			Arguments: map[string]any{"account": "A-7"},
		}}},
		{Role: RoleTool, ToolCallID: "call-1", Name: "get_balance", Content: "42"},
		{Role: RoleAssistant, Content: "Your balance is 42."},
	}

	contents, system := convertToGeminiContents(messages)

	if system != "Policy line one.\n\nPolicy line two." {
		t.Errorf("system instruction = %q", system)
	}
	if len(contents) != 4 {
		t.Fatalf("len(contents) = %d, want 4", len(contents))
	}

	if contents[0].Role != genai.RoleUser || contents[0].Parts[0].Text != "Check my balance" {
		t.Errorf("unexpected user content: %+v", contents[0])
	}

	callTurn := contents[1]
	if callTurn.Role != genai.RoleModel {
		t.Errorf("tool call turn role = %q, want model", callTurn.Role)
	}
	fc := callTurn.Parts[0].FunctionCall
	if fc == nil {
		t.Fatal("expected function call part")
	}
	if fc.ID != "call-1" || fc.Name != "get_balance" {
		t.Errorf("function call = %+v", fc)
	}
	if fc.Args["account"] != "A-7" {
		t.Errorf("function call args = %v", fc.Args)
	}

	resultTurn := contents[2]
	if resultTurn.Role != genai.RoleUser {
		t.Errorf("tool result turn role = %q, want user", resultTurn.Role)
	}
	fr := resultTurn.Parts[0].FunctionResponse
	if fr == nil {
		t.Fatal("expected function response part")
	}
	if fr.ID != "call-1" || fr.Name != "get_balance" {
		t.Errorf("function response = %+v", fr)
	}
	if fr.Response["result"] != "42" {
		t.Errorf("function response payload = %v", fr.Response)
	}

	if contents[3].Role != genai.RoleModel || contents[3].Parts[0].Text != "Your balance is 42." {
		t.Errorf("unexpected assistant content: %+v", contents[3])
	}
}

func TestToGeminiSchema(t *testing.T) {
	schema := toGeminiSchema(map[string]any{
		"type":        "object",
		"description": "Flight search",
		"properties": map[string]any{
			"origin": map[string]any{"type": "string", "description": "Origin airport"},
			"count":  map[string]any{"type": "integer"},
			"tags":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"class":  map[string]any{"type": "string", "enum": []any{"economy", "business"}},
		},
		"required": []string{"origin"},
	})

	if schema.Type != genai.TypeObject {
		t.Errorf("Type = %v, want %v", schema.Type, genai.TypeObject)
	}
	if schema.Description != "Flight search" {
		t.Errorf("Description = %q", schema.Description)
	}
	if len(schema.Properties) != 4 {
		t.Fatalf("len(Properties) = %d, want 4", len(schema.Properties))
	}
	if schema.Properties["origin"].Type != genai.TypeString {
		t.Errorf("origin type = %v, want %v", schema.Properties["origin"].Type, genai.TypeString)
	}
	if schema.Properties["origin"].Description != "Origin airport" {
		t.Errorf("origin description = %q", schema.Properties["origin"].Description)
	}
	if schema.Properties["count"].Type != genai.TypeInteger {
		t.Errorf("count type = %v, want %v", schema.Properties["count"].Type, genai.TypeInteger)
	}
	tags := schema.Properties["tags"]
	if tags.Items == nil || tags.Items.Type != genai.TypeString {
		t.Errorf("tags items = %+v, want string items", tags.Items)
	}
	class := schema.Properties["class"]
	if len(class.Enum) != 2 || class.Enum[0] != "economy" || class.Enum[1] != "business" {
		t.Errorf("class enum = %v", class.Enum)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "origin" {
		t.Errorf("Required = %v, want [origin]", schema.Required)
	}
}

func TestToGeminiSchemaRequiredFromJSON(t *testing.T) {
	// Schemas decoded from JSON carry required as []any.
	schema := toGeminiSchema(map[string]any{
		"type":     "object",
		"required": []any{"a", "b"},
	})
	if len(schema.Required) != 2 || schema.Required[0] != "a" || schema.Required[1] != "b" {
		t.Errorf("Required = %v, want [a b]", schema.Required)
	}

	if toGeminiSchema(nil) != nil {
		t.Error("toGeminiSchema(nil) should return nil")
	}
}

func TestConvertToGeminiTools(t *testing.T) {
	tools := convertToGeminiTools([]ToolDefinition{{
		Name:        "search_flights",
		Description: "Search for flights",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"origin": map[string]any{"type": "string"},
			},
			"required": []string{"origin"},
		},
	}})

	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(tools))
	}
	decls := tools[0].FunctionDeclarations
	if len(decls) != 1 {
		t.Fatalf("len(declarations) = %d, want 1", len(decls))
	}
	if decls[0].Name != "search_flights" {
		t.Errorf("declaration name = %q", decls[0].Name)
	}
	if decls[0].Description != "Search for flights" {
		t.Errorf("declaration description = %q", decls[0].Description)
	}
	if decls[0].Parameters == nil || decls[0].Parameters.Type != genai.TypeObject {
		t.Errorf("declaration parameters = %+v", decls[0].Parameters)
	}
}

func TestParseGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{
					{Text: "Let me check. "},
					{FunctionCall: &genai.FunctionCall{
						Name: "get_balance",
						Args: map[string]any{"account": "A-7"},
					}},
				},
			},
		}},
	}

	text, toolCalls, err := parseGeminiResponse(resp)
	if err != nil {
		t.Fatalf("parseGeminiResponse() error = %v", err)
	}
	if text != "Let me check. " {
		t.Errorf("text = %q", text)
	}
	if len(toolCalls) != 1 {
		t.Fatalf("len(toolCalls) = %d, want 1", len(toolCalls))
	}
	if toolCalls[0].Name != "get_balance" {
		t.Errorf("tool call name = %q", toolCalls[0].Name)
	}
	if toolCalls[0].ID == "" {
		t.Error("tool call ID should be generated when the API omits one")
	}
	if toolCalls[0].Arguments["account"] != "A-7" {
		t.Errorf("tool call args = %v", toolCalls[0].Arguments)
	}
}

func TestParseGeminiResponsePreservesCallID(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{
					{FunctionCall: &genai.FunctionCall{ID: "srv-1", Name: "get_balance"}},
				},
			},
		}},
	}

	_, toolCalls, err := parseGeminiResponse(resp)
	if err != nil {
		t.Fatalf("parseGeminiResponse() error = %v", err)
	}
	if len(toolCalls) != 1 || toolCalls[0].ID != "srv-1" {
		t.Errorf("tool calls = %+v, want preserved ID srv-1", toolCalls)
	}
}

func TestParseGeminiResponseEmpty(t *testing.T) {
	_, _, err := parseGeminiResponse(&genai.GenerateContentResponse{})
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Errorf("parseGeminiResponse() error = %v, want empty response", err)
	}
}
