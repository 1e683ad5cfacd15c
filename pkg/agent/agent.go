// Package agent adapts a remote protocol-speaking agent to the harness's
// conversational-agent contract. The adapter holds only immutable
// configuration plus the protocol client; everything mutable lives on the
// TaskSession it hands back, so concurrent tasks never observe each other's
// context ID or history.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wuTims/tau2-bench-agent/pkg/a2a"
	"github.com/wuTims/tau2-bench-agent/pkg/chat"
	"github.com/wuTims/tau2-bench-agent/pkg/metrics"
	"github.com/wuTims/tau2-bench-agent/pkg/translate"
)

// AgentType identifies this adapter in metrics exports.
const AgentType = "a2a_agent"

// agentInstruction is the fixed preamble seeded ahead of the domain policy
// in every session's system message.
const agentInstruction = `You are a customer service agent that helps the user according to the <policy> provided below.
In each turn you can either:
- Send a message to the user.
- Make a tool call.
You cannot do both at the same time.
Try to be helpful and always follow the policy.`

// TaskSession is the conversation state of one evaluation task: the
// accumulated history, the server-issued context ID, the discovered agent
// card, and the number of protocol round-trips completed. Sessions are
// created by InitialState, threaded through GenerateNextMessage, and
// discarded when the task ends. A session must never be shared across tasks.
type TaskSession struct {
	ContextID    string
	History      []chat.Message
	Card         *a2a.AgentCard
	RequestCount int
}

// Config configures the protocol-backed agent adapter.
type Config struct {
	// Client describes the remote agent endpoint. Ignored when a pre-built
	// client is supplied via WithClient.
	Client a2a.ClientConfig

	// Policy is the domain policy text composed into every session's system
	// prelude. Required.
	Policy string

	// Tools are the domain tools advertised to the remote agent on each
	// user turn.
	Tools []chat.Tool
}

// Agent drives a remote agent over the protocol on behalf of the
// orchestrator. Construct with New; the zero value is not usable.
type Agent struct {
	client *a2a.Client
	policy string
	tools  []chat.Tool
	logger *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithClient substitutes a pre-built protocol client, sharing its metrics
// recorder and agent-card cache. Config.Client is ignored when set.
func WithClient(client *a2a.Client) Option {
	return func(a *Agent) {
		a.client = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New validates the configuration and builds the adapter. Agent-card
// discovery is deferred to the first send so construction performs no I/O.
func New(cfg Config, opts ...Option) (*Agent, error) {
	if cfg.Policy == "" {
		return nil, fmt.Errorf("domain policy is required")
	}

	a := &Agent{
		policy: cfg.Policy,
		tools:  cfg.Tools,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		client, err := a2a.NewClient(cfg.Client)
		if err != nil {
			return nil, fmt.Errorf("failed to create protocol client: %w", err)
		}
		a.client = client
	}

	a.logger.Debug("Protocol agent initialised",
		"endpoint", a.client.Endpoint(),
		"tool_count", len(a.tools))

	return a, nil
}

// InitialState builds a fresh session. History is seeded with a single
// system message composed from the fixed instruction preamble and the domain
// policy; prior history, when supplied, is appended verbatim. The agent card
// is carried over from the client's cache when discovery has already run.
func (a *Agent) InitialState(priorHistory []chat.Message) (*TaskSession, error) {
	history := make([]chat.Message, 0, len(priorHistory)+1)
	history = append(history, chat.SystemMessage{Content: systemPrompt(a.policy)})
	history = append(history, priorHistory...)

	return &TaskSession{
		History: history,
		Card:    a.client.Card(),
	}, nil
}

// GenerateNextMessage appends the incoming message to the session history
// (a MultiToolMessage is unpacked into its constituent tool results),
// flattens the conversation onto the wire, sends it, and records the reply
// plus any server-issued context ID on the session. It returns only after
// the network round-trip completes. On failure the session is returned
// unchanged so the caller may retry or abandon the task.
func (a *Agent) GenerateNextMessage(ctx context.Context, in chat.Message, s *TaskSession) (*chat.AssistantMessage, *TaskSession, error) {
	if s == nil {
		return nil, nil, fmt.Errorf("nil task session")
	}
	if in == nil {
		return nil, s, fmt.Errorf("nil input message")
	}

	if s.Card == nil {
		card, err := a.client.Discover(ctx)
		if err != nil {
			return nil, s, fmt.Errorf("failed to discover agent: %w", err)
		}
		s.Card = card
	}

	history := appendTurn(s.History, in)

	// Tool schemas ride only on user turns; tool-result turns do not
	// re-advertise them.
	var tools []chat.Tool
	if in.Role() == chat.RoleUser {
		tools = a.tools
	}

	wireMsg, err := translate.ToWire(history, tools, s.ContextID)
	if err != nil {
		return nil, s, fmt.Errorf("failed to translate conversation: %w", err)
	}

	reply, newContextID, _, err := a.client.Send(ctx, wireMsg)
	if err != nil {
		return nil, s, fmt.Errorf("failed to send message: %w", err)
	}

	assistant, _, err := translate.FromWire(reply)
	if err != nil {
		return nil, s, fmt.Errorf("failed to parse agent reply: %w", err)
	}

	if s.ContextID != "" && newContextID != "" && newContextID != s.ContextID {
		a.logger.Warn("Context ID changed unexpectedly",
			"old_context_id", s.ContextID,
			"new_context_id", newContextID)
	}
	if newContextID != "" {
		s.ContextID = newContextID
	}

	s.History = append(history, assistant)
	s.RequestCount++

	a.logger.Debug("Agent turn completed",
		"context_id", s.ContextID,
		"request_count", s.RequestCount,
		"is_tool_call", assistant.IsToolCall())

	return assistant, s, nil
}

// Stop releases the protocol client's resources.
func (a *Agent) Stop(ctx context.Context) error {
	return a.client.Close()
}

// IsStop reports whether the assistant turn carries the conversation
// termination marker. The rule is shared with the orchestrator; the adapter
// introduces no stop conditions of its own.
func (a *Agent) IsStop(msg *chat.AssistantMessage) bool {
	return msg != nil && strings.Contains(msg.Content, chat.StopSignal)
}

// Metrics returns a snapshot of the protocol request metrics recorded so far.
func (a *Agent) Metrics() []*metrics.Request {
	return a.client.Metrics()
}

// AggregateMetrics folds the recorded request metrics into summary
// statistics.
func (a *Agent) AggregateMetrics() metrics.Aggregate {
	return a.client.Recorder().Aggregate()
}

// ClearMetrics discards recorded request metrics, typically between trials.
func (a *Agent) ClearMetrics() {
	a.client.ClearMetrics()
}

// ExportMetrics assembles the serialisable metrics document for one task.
func (a *Agent) ExportMetrics(taskID string) metrics.Export {
	return metrics.BuildExport(a.client.Recorder(), taskID, AgentType)
}

// appendTurn appends one incoming message to the history, unpacking a
// MultiToolMessage into its constituent tool results.
func appendTurn(history []chat.Message, in chat.Message) []chat.Message {
	if multi, ok := in.(chat.MultiToolMessage); ok {
		out := history
		for _, tm := range multi.ToolMessages {
			out = append(out, tm)
		}
		return out
	}
	return append(history, in)
}

// systemPrompt composes the session's seed system message from the fixed
// instruction preamble and the domain policy.
func systemPrompt(policy string) string {
	return fmt.Sprintf("<instructions>\n%s\n</instructions>\n<policy>\n%s\n</policy>", agentInstruction, policy)
}
