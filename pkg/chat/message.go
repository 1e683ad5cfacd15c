// Package chat defines the harness-native conversation model: the message
// union exchanged between the orchestrator, the user simulator, and the
// agent under evaluation, plus the tool-call vocabulary.
package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the discriminated union of conversation turns. The concrete
// types are SystemMessage, UserMessage, AssistantMessage, ToolMessage and
// MultiToolMessage; nothing outside this package implements it.
type Message interface {
	Role() Role
	message()
}

// SystemMessage carries the policy prelude seeded at the start of a task.
type SystemMessage struct {
	Content string `json:"content"`
}

func (SystemMessage) Role() Role { return RoleSystem }
func (SystemMessage) message()   {}

// UserMessage is a turn produced by the user simulator.
type UserMessage struct {
	Content string `json:"content"`
}

func (UserMessage) Role() Role { return RoleUser }
func (UserMessage) message()   {}

// AssistantMessage is a turn produced by the agent under evaluation. It
// carries either free text or tool-call requests, never both.
type AssistantMessage struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

func (AssistantMessage) Role() Role { return RoleAssistant }
func (AssistantMessage) message()   {}

// IsToolCall reports whether the assistant requested tool execution.
func (m AssistantMessage) IsToolCall() bool { return len(m.ToolCalls) > 0 }

// Validate enforces the content/tool-call exclusivity rule.
func (m AssistantMessage) Validate() error {
	if strings.TrimSpace(m.Content) != "" && len(m.ToolCalls) > 0 {
		return fmt.Errorf("assistant message carries both content and %d tool calls", len(m.ToolCalls))
	}
	return nil
}

// ToolMessage is the result of executing one tool call locally.
type ToolMessage struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	Error      bool   `json:"error,omitempty"`
}

func (ToolMessage) Role() Role { return RoleTool }
func (ToolMessage) message()   {}

// MultiToolMessage bundles the results of several tool calls issued in a
// single assistant turn. Consumers unpack it into its constituents.
type MultiToolMessage struct {
	ToolMessages []ToolMessage `json:"tool_messages"`
}

func (MultiToolMessage) Role() Role { return RoleTool }
func (MultiToolMessage) message()   {}

// StopSignal is the marker a user simulator embeds in a turn to end the
// conversation.
const StopSignal = "###STOP###"

// RequestorAssistant is the only tool-call requestor the harness emits.
const RequestorAssistant = "assistant"

// ToolCall is a request by the assistant to execute a named tool with the
// given arguments. IDs are stable for the lifetime of a task.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Requestor string         `json:"requestor,omitempty"`
}

// NewToolCall builds a ToolCall with a generated ID and the default
// requestor.
func NewToolCall(name string, arguments map[string]any) ToolCall {
	return ToolCall{
		ID:        uuid.NewString(),
		Name:      name,
		Arguments: arguments,
		Requestor: RequestorAssistant,
	}
}
