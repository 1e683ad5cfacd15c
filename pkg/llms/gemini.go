package llms

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/wuTims/tau2-bench-agent/pkg/chat"
)

// GeminiProvider serves Google Gemini models through the official Gen AI
// SDK. The SDK owns transport and retries; this type handles the format
// conversion in both directions.
type GeminiProvider struct {
	config Config
	client *genai.Client
}

// NewGeminiProvider builds a provider against the Gemini API backend.
func NewGeminiProvider(cfg Config) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for provider '%s'", ProviderGemini)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		config: cfg,
		client: client,
	}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []chat.ToolCall, int, error) {
	contents, systemInstruction := convertToGeminiContents(messages)
	config := p.buildGenerateConfig(systemInstruction, tools)

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, config)
	if err != nil {
		return "", nil, 0, fmt.Errorf("Gemini API error: %w", err)
	}

	text, toolCalls, err := parseGeminiResponse(resp)
	if err != nil {
		return "", nil, 0, err
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return text, toolCalls, tokensUsed, nil
}

func (p *GeminiProvider) GetModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) buildGenerateConfig(systemInstruction string, tools []ToolDefinition) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	if p.config.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*p.config.Temperature))
	}

	if p.config.MaxTokens > 0 {
		config.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	if len(tools) > 0 {
		config.Tools = convertToGeminiTools(tools)
	}

	return config
}

// convertToGeminiContents maps a transcript to Gemini contents. System
// turns are hoisted out because Gemini takes them as a separate system
// instruction, and tool results travel on the user side of the wire.
func convertToGeminiContents(messages []Message) ([]*genai.Content, string) {
	var systemParts []string
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.Name,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})

		case RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Arguments,
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}

		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return contents, strings.Join(systemParts, "\n\n")
}

func convertToGeminiTools(tools []ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGeminiSchema(tool.Parameters),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to the SDK's schema type.
// Gemini expects uppercase type names on the wire.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}

	schema.Required = stringSlice(schemaMap["required"])

	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}

	schema.Enum = stringSlice(schemaMap["enum"])

	return schema
}

// stringSlice accepts both []string and []any forms, which both occur in
// schemas built from Go literals and schemas decoded from JSON.
func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		var result []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

// parseGeminiResponse flattens the first candidate into text and tool
// calls. Gemini omits call IDs, so missing ones are generated to keep
// results addressable on later turns.
func parseGeminiResponse(resp *genai.GenerateContentResponse) (string, []chat.ToolCall, error) {
	if len(resp.Candidates) == 0 {
		return "", nil, fmt.Errorf("empty response from Gemini")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", nil, nil
	}

	var text strings.Builder
	var toolCalls []chat.ToolCall

	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			toolCalls = append(toolCalls, chat.ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	return text.String(), toolCalls, nil
}
