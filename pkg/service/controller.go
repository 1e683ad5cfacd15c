package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wuTims/tau2-bench-agent/pkg/a2a"
	"github.com/wuTims/tau2-bench-agent/pkg/chat"
	"github.com/wuTims/tau2-bench-agent/pkg/llms"
	"github.com/wuTims/tau2-bench-agent/pkg/observability"
	"github.com/wuTims/tau2-bench-agent/pkg/session"
	"github.com/wuTims/tau2-bench-agent/pkg/tools"
)

// instruction is the controller's system prompt.
const instruction = `You are a conversational agent evaluation service powered by tau2-bench.

You can evaluate other conversational agents across multiple customer service domains:
- airline: Flight booking, modifications, cancellations
- retail: Product orders, returns, exchanges
- telecom: Technical support, billing issues
- mock: Simple test scenarios

When a user requests an evaluation:
1. Clarify the evaluation parameters (domain, agent endpoint, number of tasks)
2. Use run_evaluation tool to execute the evaluation
3. Provide clear, actionable feedback on agent performance
4. Offer to retrieve detailed results using get_evaluation_results

Be helpful in explaining evaluation metrics and suggesting improvements.`

// maxToolIterations caps the generate/execute loop for a single inbound
// message. Four rounds covers clarify, run, fetch, summarize.
const maxToolIterations = 4

// controller turns inbound protocol messages into LLM completions with
// tool calls, persisting the transcript under the conversation's contextId.
type controller struct {
	provider llms.Provider
	tools    *tools.Registry
	sessions session.Service
	obs      *observability.Manager
	logger   *slog.Logger
}

func newController(provider llms.Provider, reg *tools.Registry, sessions session.Service, obs *observability.Manager, logger *slog.Logger) *controller {
	return &controller{
		provider: provider,
		tools:    reg,
		sessions: sessions,
		obs:      obs,
		logger:   logger,
	}
}

// handleMessage resolves the session for the incoming message, runs the
// tool-calling loop, and returns the agent's reply carrying the contextId
// the client must reuse to continue the conversation.
func (c *controller) handleMessage(ctx context.Context, incoming *a2a.Message) (*a2a.Message, error) {
	contextID, history, err := c.resolveSession(ctx, incoming.ContextID)
	if err != nil {
		return nil, err
	}

	userMsg := llms.Message{Role: llms.RoleUser, Content: incoming.TextContent()}
	if err := c.sessions.AppendMessage(ctx, contextID, userMsg); err != nil {
		return nil, fmt.Errorf("failed to record user message: %w", err)
	}

	msgs := make([]llms.Message, 0, len(history)+2)
	msgs = append(msgs, llms.Message{Role: llms.RoleSystem, Content: instruction})
	msgs = append(msgs, history...)
	msgs = append(msgs, userMsg)

	defs := c.toolDefinitions()

	var finalText string
	totalTokens := 0
	for iteration := 0; iteration < maxToolIterations; iteration++ {
		text, calls, tokens, err := c.provider.Generate(ctx, msgs, defs)
		if err != nil {
			return nil, fmt.Errorf("generation failed: %w", err)
		}
		totalTokens += tokens

		if len(calls) == 0 {
			finalText = text
			break
		}

		assistantMsg := llms.Message{
			Role:      llms.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		}
		msgs = append(msgs, assistantMsg)
		if err := c.sessions.AppendMessage(ctx, contextID, assistantMsg); err != nil {
			return nil, fmt.Errorf("failed to record assistant message: %w", err)
		}

		for _, call := range calls {
			toolMsg := c.executeTool(ctx, call)
			msgs = append(msgs, toolMsg)
			if err := c.sessions.AppendMessage(ctx, contextID, toolMsg); err != nil {
				return nil, fmt.Errorf("failed to record tool result: %w", err)
			}
		}
	}

	if finalText == "" {
		finalText = "I was unable to complete the request within the allowed number of tool steps. Please try a narrower request."
	}

	replyMsg := llms.Message{Role: llms.RoleAssistant, Content: finalText}
	if err := c.sessions.AppendMessage(ctx, contextID, replyMsg); err != nil {
		return nil, fmt.Errorf("failed to record reply: %w", err)
	}

	c.logger.Info("Message handled",
		"context_id", contextID,
		"tokens", totalTokens)

	return &a2a.Message{
		MessageID: uuid.NewString(),
		Role:      a2a.RoleAgent,
		Parts:     []a2a.Part{a2a.NewTextPart(finalText)},
		ContextID: contextID,
	}, nil
}

// resolveSession loads or creates the session behind a contextId. An empty
// id starts a fresh conversation; an unknown id is adopted rather than
// rejected so clients can resume after a memory-backend restart.
func (c *controller) resolveSession(ctx context.Context, contextID string) (string, []llms.Message, error) {
	if contextID == "" {
		resp, err := c.sessions.Create(ctx, &session.CreateRequest{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to create session: %w", err)
		}
		return resp.Session.ContextID, nil, nil
	}

	resp, err := c.sessions.Get(ctx, &session.GetRequest{ContextID: contextID})
	if err == nil {
		return contextID, resp.Session.Messages, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return "", nil, fmt.Errorf("failed to load session: %w", err)
	}

	if _, err := c.sessions.Create(ctx, &session.CreateRequest{ContextID: contextID}); err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}
	return contextID, nil, nil
}

// toolDefinitions exposes the registry to the provider.
func (c *controller) toolDefinitions() []llms.ToolDefinition {
	infos := tools.Infos(c.tools)
	defs := make([]llms.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		defs = append(defs, llms.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.InputSchema,
		})
	}
	return defs
}

// executeTool runs one tool call and renders the result as a tool-role
// message. Failures are reported back to the model instead of aborting the
// conversation, so it can relay the problem to the user.
func (c *controller) executeTool(ctx context.Context, call chat.ToolCall) llms.Message {
	tool, ok := c.tools.Get(call.Name)
	if !ok {
		return c.toolMessage(call, tools.ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("unknown tool: %s", call.Name),
			ToolName: call.Name,
		})
	}

	toolCtx, span := c.obs.Tracer().StartToolExecution(ctx, call.Name)
	start := time.Now()
	result, err := tool.Execute(toolCtx, call.Arguments)
	duration := time.Since(start)
	if err != nil {
		observability.RecordError(span, err)
		result = tools.ToolResult{
			Success:  false,
			Error:    err.Error(),
			ToolName: call.Name,
		}
	}
	span.End()

	c.obs.Metrics().RecordToolExecution(ctx, call.Name, duration, result.Success)
	if call.Name == "run_evaluation" && result.Success {
		c.recordEvaluationMetrics(ctx, call.Arguments, result)
	}

	c.logger.Info("Tool executed",
		"tool", call.Name,
		"success", result.Success,
		"duration", duration)

	return c.toolMessage(call, result)
}

// toolMessage serialises a tool result for the completion transcript.
func (c *controller) toolMessage(call chat.ToolCall, result tools.ToolResult) llms.Message {
	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"success":false,"error":"failed to encode result: %s"}`, err))
	}
	return llms.Message{
		Role:       llms.RoleTool,
		Content:    string(content),
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

// recordEvaluationMetrics feeds the run summary into the evaluation
// counters. The summary travels inside the tool output because the
// controller never sees runner internals.
func (c *controller) recordEvaluationMetrics(ctx context.Context, args map[string]any, result tools.ToolResult) {
	output, ok := result.Output.(map[string]any)
	if !ok {
		return
	}
	summary, ok := output["summary"].(map[string]any)
	if !ok {
		return
	}

	domain, _ := args["domain"].(string)
	c.obs.Metrics().RecordEvaluation(ctx,
		domain,
		asInt(summary["totalSimulations"]),
		asInt(summary["successfulSimulations"]),
		asInt(summary["totalAgentRequests"]),
	)
}

// asInt coerces the numeric types a summary field can hold after a JSON
// round trip.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
