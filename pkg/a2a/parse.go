package a2a

import (
	"bytes"
	"encoding/json"
)

// ============================================================================
// REPLY NORMALISATION
// Agents in the wild answer message/send with one of five result shapes:
//
//   1. a full Message with role=agent
//   2. a bare {"parts":[…]} object
//   3. a plain JSON string
//   4. a {"message":{…}} wrapper
//   5. a task object whose terminal message is buried in artifacts,
//      status.message, or history
//
// ParseReply folds all five into one Message. Anything else is malformed.
// ============================================================================

// replyEnvelope is the superset of fields observed across the five shapes.
type replyEnvelope struct {
	ID        string  `json:"id"`
	MessageID string  `json:"messageId"`
	Role      Role    `json:"role"`
	Parts     []Part  `json:"parts"`
	ContextID string  `json:"contextId"`
	TaskID    string  `json:"taskId"`
	Message   *Message `json:"message"`
	Status    *struct {
		State   string   `json:"state"`
		Message *Message `json:"message"`
	} `json:"status"`
	Artifacts []struct {
		Parts []Part `json:"parts"`
	} `json:"artifacts"`
	History []Message `json:"history"`
}

// ParseReply normalises a JSON-RPC result payload into a single agent
// Message. The returned message always has Role set to RoleAgent and at
// least one part.
func ParseReply(result json.RawMessage) (*Message, error) {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &ProtocolError{Kind: ProtocolMalformed, Detail: "result is empty"}
	}

	// Shape 3: a plain string.
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, &ProtocolError{Kind: ProtocolMalformed, Detail: "unreadable string result", Err: err}
		}
		return &Message{Role: RoleAgent, Parts: []Part{NewTextPart(text)}}, nil
	}

	var env replyEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &ProtocolError{
			Kind:   ProtocolMalformed,
			Detail: "unreadable result: " + truncate(string(trimmed), 500),
			Err:    err,
		}
	}

	msg := &Message{
		Role:      RoleAgent,
		MessageID: env.MessageID,
		ContextID: env.ContextID,
		TaskID:    env.TaskID,
	}

	// Task shape first, matching the order deployed agents are seen to use:
	// artifacts, then status.message, then history.
	for _, artifact := range env.Artifacts {
		msg.Parts = append(msg.Parts, artifact.Parts...)
	}

	// Shapes 1 and 2: parts at the top level.
	if len(msg.Parts) == 0 && len(env.Parts) > 0 {
		msg.Parts = env.Parts
	}

	if len(msg.Parts) == 0 && env.Status != nil && env.Status.Message != nil {
		msg.Parts = env.Status.Message.Parts
		fillIdentity(msg, env.Status.Message)
	}

	// Shape 4: wrapped message.
	if len(msg.Parts) == 0 && env.Message != nil {
		msg.Parts = env.Message.Parts
		fillIdentity(msg, env.Message)
	}

	// Shape 5 fallback: last agent message in history.
	if len(msg.Parts) == 0 {
		for i := len(env.History) - 1; i >= 0; i-- {
			if env.History[i].Role == RoleAgent {
				msg.Parts = env.History[i].Parts
				fillIdentity(msg, &env.History[i])
				break
			}
		}
	}

	if len(msg.Parts) == 0 {
		return nil, &ProtocolError{
			Kind:   ProtocolMalformed,
			Detail: "no message content in result: " + truncate(string(trimmed), 500),
		}
	}

	// Context ID may live on the envelope or the inner message.
	if msg.ContextID == "" && env.Message != nil {
		msg.ContextID = env.Message.ContextID
	}

	// For task-shaped results the top-level id is the task's.
	if msg.TaskID == "" && env.ID != "" && (len(env.Artifacts) > 0 || env.Status != nil || len(env.History) > 0) {
		msg.TaskID = env.ID
	}

	return msg, nil
}

// fillIdentity copies identifying fields from an inner message when the
// envelope did not carry them.
func fillIdentity(dst *Message, src *Message) {
	if dst.MessageID == "" {
		dst.MessageID = src.MessageID
	}
	if dst.ContextID == "" {
		dst.ContextID = src.ContextID
	}
	if dst.TaskID == "" {
		dst.TaskID = src.TaskID
	}
}
