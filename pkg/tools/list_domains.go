package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/domains"
)

type listDomainsArgs struct{}

// ListDomainsTool reports the benchmark domains an evaluation can target.
type ListDomainsTool struct {
	registry *domains.Registry
	schema   map[string]any
}

// NewListDomainsTool builds the tool. The registry is optional; it only
// marks which catalogue entries have a runnable implementation.
func NewListDomainsTool(reg *domains.Registry) *ListDomainsTool {
	return &ListDomainsTool{
		registry: reg,
		schema:   mustSchema[listDomainsArgs](),
	}
}

func (t *ListDomainsTool) GetName() string { return "list_domains" }

func (t *ListDomainsTool) GetDescription() string {
	return "List the benchmark domains available for evaluation"
}

func (t *ListDomainsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  parameterList(t.schema),
		InputSchema: t.schema,
	}
}

func (t *ListDomainsTool) Execute(_ context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	if err := validateArgs(t.GetName(), t.schema, args); err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	catalogue := domains.Catalogue()
	entries := make([]map[string]any, 0, len(catalogue))
	var lines []string
	for _, info := range catalogue {
		entry := map[string]any{
			"name":        info.Name,
			"description": info.Description,
			"taskCount":   info.TaskCount,
		}
		if t.registry != nil {
			_, runnable := t.registry.Get(info.Name)
			entry["runnable"] = runnable
		}
		entries = append(entries, entry)
		lines = append(lines, fmt.Sprintf("%s: %s (%d tasks)", info.Name, info.Description, info.TaskCount))
	}

	output := map[string]any{"domains": entries}
	content := "Available domains:\n" + strings.Join(lines, "\n")
	return successResult(t.GetName(), content, output, start), nil
}

var _ Tool = (*ListDomainsTool)(nil)
