package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wuTims/tau2-bench-agent/pkg/a2a"
	"github.com/wuTims/tau2-bench-agent/pkg/domains"
	"github.com/wuTims/tau2-bench-agent/pkg/runner"
	"github.com/wuTims/tau2-bench-agent/pkg/store"
)

// RunFunc executes one evaluation. Tests substitute it; the default is
// runner.Run.
type RunFunc func(ctx context.Context, cfg runner.RunConfig, deps runner.Deps) (*runner.Results, error)

// Deps carries what the tool set needs. AuthToken is the outbound bearer
// token for the agent under test; it is injected from configuration and is
// never accepted as a tool argument, so callers of the evaluation service
// can neither read nor replace it.
type Deps struct {
	Domains *domains.Registry
	Store   store.Store
	Run     RunFunc

	AuthToken string
	Logger    *slog.Logger
}

type runEvaluationArgs struct {
	Domain         string   `json:"domain" jsonschema:"required,description=Benchmark domain to evaluate"`
	AgentEndpoint  string   `json:"agentEndpoint" jsonschema:"required,description=Base URL of the agent under test"`
	UserLLM        string   `json:"userLlm,omitempty" jsonschema:"description=User simulator model,default=gpt-4o"`
	NumTrials      int      `json:"numTrials,omitempty" jsonschema:"description=Trials per task,default=1,minimum=1"`
	NumTasks       int      `json:"numTasks,omitempty" jsonschema:"description=Number of tasks to run; zero runs all,minimum=0"`
	TaskIDs        []string `json:"taskIds,omitempty" jsonschema:"description=Specific task IDs to run"`
	MaxSteps       int      `json:"maxSteps,omitempty" jsonschema:"description=Maximum agent turns per simulation,default=50,minimum=1"`
	MaxErrors      int      `json:"maxErrors,omitempty" jsonschema:"description=Maximum tolerated errors per simulation,default=10,minimum=1"`
	MaxConcurrency int      `json:"maxConcurrency,omitempty" jsonschema:"description=Simulations run in parallel,default=3,minimum=1"`
}

// RunEvaluationTool launches a full evaluation run against a remote agent
// and stores the results for later retrieval.
type RunEvaluationTool struct {
	deps   Deps
	schema map[string]any
}

// NewRunEvaluationTool builds the tool with its dependencies resolved.
func NewRunEvaluationTool(deps Deps) *RunEvaluationTool {
	if deps.Run == nil {
		deps.Run = runner.Run
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &RunEvaluationTool{
		deps:   deps,
		schema: mustSchema[runEvaluationArgs](),
	}
}

func (t *RunEvaluationTool) GetName() string { return "run_evaluation" }

func (t *RunEvaluationTool) GetDescription() string {
	return "Run a benchmark evaluation against a remote agent endpoint"
}

func (t *RunEvaluationTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  parameterList(t.schema),
		InputSchema: t.schema,
	}
}

func (t *RunEvaluationTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	if err := validateArgs(t.GetName(), t.schema, args); err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	var parsed runEvaluationArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	if !domains.IsCatalogued(parsed.Domain) {
		names := make([]string, 0, 4)
		for _, info := range domains.Catalogue() {
			names = append(names, info.Name)
		}
		err := fmt.Errorf("unknown domain '%s' (available: %s)", parsed.Domain, strings.Join(names, ", "))
		return errorResult(t.GetName(), err.Error(), start), err
	}
	if _, err := a2a.NewClientConfig(parsed.AgentEndpoint); err != nil {
		err = fmt.Errorf("invalid agentEndpoint: %w", err)
		return errorResult(t.GetName(), err.Error(), start), err
	}

	cfg := runner.RunConfig{
		Domain:         parsed.Domain,
		AgentEndpoint:  parsed.AgentEndpoint,
		AuthToken:      t.deps.AuthToken,
		UserLLM:        parsed.UserLLM,
		TaskIDs:        parsed.TaskIDs,
		NumTasks:       parsed.NumTasks,
		NumTrials:      parsed.NumTrials,
		MaxSteps:       parsed.MaxSteps,
		MaxErrors:      parsed.MaxErrors,
		MaxConcurrency: parsed.MaxConcurrency,
	}

	t.deps.Logger.Info("Evaluation requested",
		"domain", parsed.Domain,
		"endpoint", parsed.AgentEndpoint,
		"trials", parsed.NumTrials)

	results, err := t.deps.Run(ctx, cfg, runner.Deps{Domains: t.deps.Domains, Logger: t.deps.Logger})
	if err != nil {
		err = fmt.Errorf("evaluation failed: %w", err)
		return errorResult(t.GetName(), err.Error(), start), err
	}

	evaluationID := uuid.NewString()
	stored := false
	if t.deps.Store != nil {
		if err := t.deps.Store.SaveResult(ctx, evaluationID, results); err != nil {
			t.deps.Logger.Warn("Failed to store evaluation results",
				"evaluation_id", evaluationID,
				"error", err)
		} else {
			stored = true
		}
	}

	taskList := make([]map[string]any, 0, len(results.Tasks))
	for _, task := range results.Tasks {
		taskList = append(taskList, map[string]any{"id": task.ID, "name": task.Name})
	}

	totalAgentRequests := 0
	for _, sim := range results.Simulations {
		totalAgentRequests += sim.Metrics.TotalRequests
	}

	output := map[string]any{
		"status":       "completed",
		"timestamp":    results.Timestamp,
		"evaluationId": evaluationID,
		"stored":       stored,
		"summary": map[string]any{
			"totalSimulations":      len(results.Simulations),
			"totalTasks":            len(results.Tasks),
			"successfulSimulations": results.SuccessCount(),
			"successRate":           results.SuccessRate(),
			"totalAgentRequests":    totalAgentRequests,
		},
		"tasks": taskList,
	}

	content := fmt.Sprintf("Evaluation %s on domain %s completed: %d/%d simulations succeeded (%.1f%%).",
		evaluationID, parsed.Domain, results.SuccessCount(), len(results.Simulations),
		results.SuccessRate()*100)

	return successResult(t.GetName(), content, output, start), nil
}

var _ Tool = (*RunEvaluationTool)(nil)
