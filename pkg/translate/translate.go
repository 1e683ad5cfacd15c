// Package translate converts between the harness's typed chat messages and
// the flat text the agent protocol carries. Remote agents are treated as
// black-box reasoners over text: tool schemas and tool results are rendered
// into the prompt, and tool calls are read back out of the reply.
package translate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/wuTims/tau2-bench-agent/pkg/a2a"
	"github.com/wuTims/tau2-bench-agent/pkg/chat"
)

// ToolInstruction is the fixed sentence appended after the tool listing that
// tells the agent how to invoke a tool.
const ToolInstruction = `To use a tool, respond with JSON: {"tool_call": {"name": "tool_name", "arguments": {"param1": "value"}}}`

// EmptyReplyFallback substitutes for an agent reply that carried no usable
// content, so the conversation can continue.
const EmptyReplyFallback = "I apologize, but I was unable to generate a response. Could you please rephrase your request?"

// ErrInvalidToolCall marks a structured tool call whose payload does not
// match the expected shape.
var ErrInvalidToolCall = errors.New("invalid tool call")

// ============================================================================
// HARNESS -> WIRE
// ============================================================================

// ToWire flattens a conversation into one outgoing wire message. The last
// history entry is the unsent turn; everything before it becomes the system
// prelude and transcript.
func ToWire(history []chat.Message, tools []chat.Tool, contextID string) (*a2a.Message, error) {
	if len(history) == 0 {
		return nil, errors.New("cannot translate an empty history")
	}

	prior, latest := history[:len(history)-1], history[len(history)-1]

	var systems []string
	var turns []chat.Message
	for _, msg := range prior {
		if sys, ok := msg.(chat.SystemMessage); ok {
			systems = append(systems, sys.Content)
			continue
		}
		turns = append(turns, msg)
	}

	var blocks []string

	if len(systems) > 0 {
		blocks = append(blocks, "<system>\n"+strings.Join(systems, "\n\n")+"\n</system>")
	}

	if toolText := FormatToolsAsText(tools); toolText != "" {
		blocks = append(blocks, toolText)
	}

	if len(turns) > 0 {
		var lines []string
		for _, msg := range turns {
			turnLines, err := transcriptLines(msg)
			if err != nil {
				return nil, err
			}
			lines = append(lines, turnLines...)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	content, err := RenderContent(latest)
	if err != nil {
		return nil, err
	}
	blocks = append(blocks, content)

	return &a2a.Message{
		MessageID: uuid.NewString(),
		Role:      a2a.RoleUser,
		Parts:     []a2a.Part{a2a.NewTextPart(strings.Join(blocks, "\n\n"))},
		ContextID: contextID,
	}, nil
}

// FormatToolsAsText renders tool schemas into the <available_tools> block.
// Returns "" when there are no tools.
func FormatToolsAsText(tools []chat.Tool) string {
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<available_tools>\n")
	for _, tool := range tools {
		params := tool.Params()
		sig := make([]string, 0, len(params))
		for _, p := range params {
			sig = append(sig, p.Name+": "+p.Type)
		}
		fmt.Fprintf(&b, "- %s(%s)\n", tool.Name, strings.Join(sig, ", "))

		desc := tool.Description
		if desc == "" {
			desc = "No description available"
		}
		fmt.Fprintf(&b, "  Description: %s\n", desc)
	}
	b.WriteString("</available_tools>\n\n")
	b.WriteString(ToolInstruction)
	return b.String()
}

// transcriptLines renders one prior turn, one line per message.
func transcriptLines(msg chat.Message) ([]string, error) {
	switch m := msg.(type) {
	case chat.UserMessage:
		return []string{"User: " + m.Content}, nil
	case chat.AssistantMessage:
		content, err := renderAssistant(m)
		if err != nil {
			return nil, err
		}
		return []string{"Assistant: " + content}, nil
	case chat.ToolMessage:
		return []string{renderToolResult(m)}, nil
	case chat.MultiToolMessage:
		lines := make([]string, 0, len(m.ToolMessages))
		for _, tm := range m.ToolMessages {
			lines = append(lines, renderToolResult(tm))
		}
		return lines, nil
	case chat.SystemMessage:
		// System turns are hoisted into the prelude by ToWire; a stray one
		// renders as plain text.
		return []string{m.Content}, nil
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}
}

// RenderContent renders the latest unsent message without a transcript
// prefix. Tool results keep their prefix so the agent can attribute them.
func RenderContent(msg chat.Message) (string, error) {
	switch m := msg.(type) {
	case chat.UserMessage:
		return m.Content, nil
	case chat.SystemMessage:
		return m.Content, nil
	case chat.AssistantMessage:
		return renderAssistant(m)
	case chat.ToolMessage:
		return renderToolResult(m), nil
	case chat.MultiToolMessage:
		lines := make([]string, 0, len(m.ToolMessages))
		for _, tm := range m.ToolMessages {
			lines = append(lines, renderToolResult(tm))
		}
		return strings.Join(lines, "\n"), nil
	default:
		return "", fmt.Errorf("unsupported message type %T", msg)
	}
}

func renderAssistant(m chat.AssistantMessage) (string, error) {
	if !m.IsToolCall() {
		return m.Content, nil
	}
	rendered, err := renderToolCalls(m.ToolCalls)
	if err != nil {
		return "", err
	}
	return rendered, nil
}

func renderToolResult(m chat.ToolMessage) string {
	prefix := fmt.Sprintf("Tool Result (%s):", m.ToolName)
	if m.Error {
		content := m.Content
		if content == "" {
			content = "Unknown error"
		}
		return prefix + " ERROR: " + content
	}
	return prefix + " " + m.Content
}

// wireToolCall is the JSON shape tool calls take on the wire.
type wireToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type wireToolCallEnvelope struct {
	ToolCall wireToolCall `json:"tool_call"`
}

type wireToolCallList struct {
	ToolCalls []wireToolCallEnvelope `json:"tool_calls"`
}

// renderToolCalls serialises tool calls into the wire JSON shape: a single
// envelope for one call, the plural wrapper for several.
func renderToolCalls(calls []chat.ToolCall) (string, error) {
	envelopes := make([]wireToolCallEnvelope, 0, len(calls))
	for _, call := range calls {
		envelopes = append(envelopes, wireToolCallEnvelope{
			ToolCall: wireToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments},
		})
	}

	var payload any
	if len(envelopes) == 1 {
		payload = envelopes[0]
	} else {
		payload = wireToolCallList{ToolCalls: envelopes}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to render tool calls: %w", err)
	}
	return string(data), nil
}

// ============================================================================
// WIRE -> HARNESS
// ============================================================================

// FromWire turns a normalised agent reply into an assistant message plus the
// reply's context ID. Tool calls in Data parts win over calls embedded in
// text; when a reply carries both text and tool calls, the calls are kept and
// the text is dropped with a warning.
func FromWire(reply *a2a.Message) (*chat.AssistantMessage, string, error) {
	text := reply.TextContent()

	calls, err := extractFromData(reply.DataParts())
	if err != nil {
		return nil, "", err
	}

	content := text
	if len(calls) == 0 {
		calls, content = extractFromText(text)
	}

	if len(calls) > 0 {
		if strings.TrimSpace(content) != "" {
			slog.Warn("Agent reply carried both text and tool calls, keeping tool calls",
				"dropped_text_len", len(content))
		}
		return &chat.AssistantMessage{ToolCalls: calls}, reply.ContextID, nil
	}

	if strings.TrimSpace(content) == "" {
		slog.Warn("Agent returned empty content, substituting fallback reply")
		content = EmptyReplyFallback
	}

	return &chat.AssistantMessage{Content: content}, reply.ContextID, nil
}

// extractFromData reads structured tool calls out of Data parts. A part with
// a tool_call key that fails shape validation is an error; parts without one
// are skipped.
func extractFromData(parts []map[string]any) ([]chat.ToolCall, error) {
	var calls []chat.ToolCall
	for _, data := range parts {
		found, err := parseToolCallPayload(data)
		if err != nil {
			return nil, err
		}
		calls = append(calls, found...)
	}
	return calls, nil
}

// extractFromText scans for the first balanced JSON object shaped as a tool
// call, lifts it out of the text, and returns the remaining content trimmed.
// Without a match the text comes back untouched.
func extractFromText(text string) ([]chat.ToolCall, string) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, ok := balancedObjectEnd(text, i)
		if !ok {
			continue
		}

		candidate := text[i : end+1]
		var data map[string]any
		if err := json.Unmarshal([]byte(candidate), &data); err != nil {
			continue
		}

		calls, err := parseToolCallPayload(data)
		if err != nil || len(calls) == 0 {
			continue
		}

		cleaned := strings.TrimSpace(text[:i] + text[end+1:])
		return calls, cleaned
	}
	return nil, text
}

// balancedObjectEnd finds the index of the brace closing the object that
// opens at start, honouring JSON string and escape rules.
func balancedObjectEnd(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// parseToolCallPayload interprets a decoded JSON object as either the single
// {"tool_call": …} envelope or the plural {"tool_calls": [...]} wrapper.
// Objects with neither key return no calls and no error.
func parseToolCallPayload(data map[string]any) ([]chat.ToolCall, error) {
	if raw, ok := data["tool_call"]; ok {
		call, err := parseSingleToolCall(raw)
		if err != nil {
			return nil, err
		}
		return []chat.ToolCall{call}, nil
	}

	if raw, ok := data["tool_calls"]; ok {
		entries, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: tool_calls is not a list", ErrInvalidToolCall)
		}
		var calls []chat.ToolCall
		for _, entry := range entries {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			inner, ok := obj["tool_call"]
			if !ok {
				continue
			}
			call, err := parseSingleToolCall(inner)
			if err != nil {
				return nil, err
			}
			calls = append(calls, call)
		}
		return calls, nil
	}

	return nil, nil
}

func parseSingleToolCall(raw any) (chat.ToolCall, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return chat.ToolCall{}, fmt.Errorf("%w: tool_call is not an object", ErrInvalidToolCall)
	}

	name, ok := obj["name"].(string)
	if !ok || name == "" {
		return chat.ToolCall{}, fmt.Errorf("%w: missing tool name", ErrInvalidToolCall)
	}

	args, ok := obj["arguments"].(map[string]any)
	if !ok {
		return chat.ToolCall{}, fmt.Errorf("%w: arguments of %q are not an object", ErrInvalidToolCall, name)
	}

	id, _ := obj["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	return chat.ToolCall{
		ID:        id,
		Name:      name,
		Arguments: args,
		Requestor: chat.RequestorAssistant,
	}, nil
}
