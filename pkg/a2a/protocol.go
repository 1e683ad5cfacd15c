// Package a2a implements the Agent Protocol used between the evaluation
// harness and agents under test: a JSON-RPC 2.0 dialect with message/send,
// server-issued context IDs, and agent-card discovery at
// /.well-known/agent-card.json.
package a2a

import (
	"encoding/json"
	"fmt"
)

// AgentCardPath is the well-known discovery path, relative to an agent's
// base endpoint.
const AgentCardPath = "/.well-known/agent-card.json"

// MethodMessageSend is the only RPC method the harness issues.
const MethodMessageSend = "message/send"

// ============================================================================
// MESSAGE - the wire unit exchanged over message/send
// ============================================================================

// Role identifies the wire-level sender of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is the protocol message envelope. ContextID is issued by the
// server on the first reply of a conversation and echoed by the client on
// every subsequent send.
type Message struct {
	MessageID string         `json:"messageId"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	ContextID string         `json:"contextId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TextContent joins the text of all Text parts with newlines.
func (m *Message) TextContent() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind != PartKindText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// DataParts returns the payloads of all Data parts in order.
func (m *Message) DataParts() []map[string]any {
	var out []map[string]any
	for _, p := range m.Parts {
		if p.Kind == PartKindData && p.Data != nil {
			out = append(out, p.Data)
		}
	}
	return out
}

// ============================================================================
// PART - message content union
// ============================================================================

// PartKind discriminates the part union.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindData PartKind = "data"
	PartKindFile PartKind = "file"
)

// Part is one unit of message content. Exactly one payload field is set.
// Parts marshal bare ({"text":…} or {"data":…}) as the protocol examples
// show; unmarshalling additionally accepts "kind" and legacy "type"
// discriminators seen in other implementations.
type Part struct {
	Kind PartKind
	Text string
	Data map[string]any
	File *FilePart
}

// FilePart carries file content by value or by reference. File parts are
// accepted on the wire but the harness never produces or consumes them.
type FilePart struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// NewTextPart builds a text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewDataPart builds a structured data part.
func NewDataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// MarshalJSON emits the bare payload form.
func (p Part) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PartKindText:
		return json.Marshal(struct {
			Text string `json:"text"`
		}{p.Text})
	case PartKindData:
		return json.Marshal(struct {
			Data map[string]any `json:"data"`
		}{p.Data})
	case PartKindFile:
		return json.Marshal(struct {
			File *FilePart `json:"file"`
		}{p.File})
	default:
		return nil, fmt.Errorf("cannot marshal part of unknown kind %q", p.Kind)
	}
}

// UnmarshalJSON accepts bare, "kind"-tagged, and legacy "type"-tagged parts.
func (p *Part) UnmarshalJSON(b []byte) error {
	var aux struct {
		Kind string          `json:"kind"`
		Type string          `json:"type"`
		Text *string         `json:"text"`
		Data map[string]any  `json:"data"`
		File json.RawMessage `json:"file"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	kind := aux.Kind
	if kind == "" {
		kind = aux.Type
	}
	if kind == "" {
		switch {
		case aux.Text != nil:
			kind = string(PartKindText)
		case aux.Data != nil:
			kind = string(PartKindData)
		case len(aux.File) > 0:
			kind = string(PartKindFile)
		default:
			return fmt.Errorf("part has no recognisable payload")
		}
	}

	switch PartKind(kind) {
	case PartKindText:
		p.Kind = PartKindText
		if aux.Text != nil {
			p.Text = *aux.Text
		}
	case PartKindData:
		p.Kind = PartKindData
		p.Data = aux.Data
	case PartKindFile:
		p.Kind = PartKindFile
		if len(aux.File) > 0 {
			var f FilePart
			if err := json.Unmarshal(aux.File, &f); err != nil {
				return fmt.Errorf("invalid file part: %w", err)
			}
			p.File = &f
		}
	default:
		return fmt.Errorf("unknown part kind %q", kind)
	}
	return nil
}

// ============================================================================
// AGENT CARD - discovery document
// ============================================================================

// AgentCard is the discovery document served at AgentCardPath.
type AgentCard struct {
	Name               string                    `json:"name"`
	URL                string                    `json:"url"`
	Description        string                    `json:"description,omitempty"`
	Version            string                    `json:"version,omitempty"`
	Capabilities       AgentCapabilities         `json:"capabilities"`
	SecuritySchemes    map[string]SecurityScheme `json:"securitySchemes,omitempty"`
	Security           []map[string][]string     `json:"security,omitempty"`
	Skills             []AgentSkill              `json:"skills,omitempty"`
	DefaultInputModes  []string                  `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string                  `json:"defaultOutputModes,omitempty"`
}

// AgentCapabilities advertises optional protocol features.
type AgentCapabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

// AgentSkill describes one capability of an agent.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// SecurityScheme describes an authentication scheme the agent accepts.
type SecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty"`
	In           string `json:"in,omitempty"`
	Name         string `json:"name,omitempty"`
}

// ============================================================================
// JSON-RPC 2.0 ENVELOPE
// ============================================================================

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// MessageSendParams are the params of a message/send request.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)
