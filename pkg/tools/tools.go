// Package tools exposes the evaluation harness as callable tools: listing
// the benchmark domains, launching an evaluation run against a remote
// agent, and fetching stored results back. The evaluation service
// front-end advertises these through its agent card and executes them on
// behalf of its LLM controller.
package tools

import (
	"context"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/registry"
)

// ToolInfo describes a tool to catalogues and agent cards.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
	InputSchema map[string]any  `json:"input_schema,omitempty"`
}

// ToolParameter is the flattened view of one schema property, kept for
// card skills and human-readable listings.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolResult is the outcome of one execution. Failures are results, not
// panics: Success false with Error set.
type ToolResult struct {
	Success       bool          `json:"success"`
	Content       string        `json:"content,omitempty"`
	Output        any           `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ToolName      string        `json:"tool_name"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

// Tool is one callable harness operation.
type Tool interface {
	GetInfo() ToolInfo

	Execute(ctx context.Context, args map[string]any) (ToolResult, error)

	GetName() string

	GetDescription() string
}

// Registry holds the tool set by name.
type Registry = registry.Registry[Tool]

// NewRegistry returns a registry with every harness tool registered.
func NewRegistry(deps Deps) (*Registry, error) {
	reg := registry.New[Tool]()
	for _, t := range []Tool{
		NewListDomainsTool(deps.Domains),
		NewRunEvaluationTool(deps),
		NewGetEvaluationResultsTool(deps.Store),
	} {
		if err := reg.Register(t.GetName(), t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Infos returns the ToolInfo of every registered tool, ordered by name.
func Infos(reg *Registry) []ToolInfo {
	names := reg.Names()
	infos := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		if t, ok := reg.Get(name); ok {
			infos = append(infos, t.GetInfo())
		}
	}
	return infos
}

func successResult(toolName, content string, output any, start time.Time) ToolResult {
	return ToolResult{
		Success:       true,
		Content:       content,
		Output:        output,
		ToolName:      toolName,
		ExecutionTime: time.Since(start),
	}
}

func errorResult(toolName, errorMsg string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         errorMsg,
		ToolName:      toolName,
		ExecutionTime: time.Since(start),
	}
}
