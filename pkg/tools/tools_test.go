package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/domains"
	"github.com/wuTims/tau2-bench-agent/pkg/runner"
	"github.com/wuTims/tau2-bench-agent/pkg/store"
)

func sampleResults(domain string) *runner.Results {
	return &runner.Results{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Info:      runner.RunInfo{Domain: domain, AgentType: "a2a_agent"},
		Tasks: []domains.Task{
			{ID: "mock-1", Name: "order status lookup"},
			{ID: "mock-2", Name: "order cancellation"},
		},
		Simulations: []runner.Simulation{
			{ID: "mock-1-trial-0", TaskID: "mock-1", Success: true, TerminationReason: "user_stop"},
			{ID: "mock-2-trial-0", TaskID: "mock-2", Success: false, TerminationReason: "max_steps"},
		},
	}
}

func TestNewRegistryRegistersAllTools(t *testing.T) {
	reg, err := NewRegistry(Deps{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"get_evaluation_results", "list_domains", "run_evaluation"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d tools, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tool %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	infos := Infos(reg)
	for _, info := range infos {
		if info.InputSchema == nil {
			t.Errorf("tool %s has no input schema", info.Name)
		}
		if info.InputSchema["type"] != "object" {
			t.Errorf("tool %s: expected object schema, got %v", info.Name, info.InputSchema["type"])
		}
	}
}

func TestListDomains(t *testing.T) {
	tool := NewListDomainsTool(domains.NewRegistry())

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if !strings.Contains(result.Content, "airline") || !strings.Contains(result.Content, "45 tasks") {
		t.Errorf("unexpected content: %q", result.Content)
	}

	output, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("unexpected output type: %T", result.Output)
	}
	entries, ok := output["domains"].([]map[string]any)
	if !ok || len(entries) != 4 {
		t.Fatalf("expected 4 domains, got %v", output["domains"])
	}

	// Only the mock domain ships an implementation.
	byName := map[string]map[string]any{}
	for _, e := range entries {
		byName[e["name"].(string)] = e
	}
	if runnable, _ := byName["mock"]["runnable"].(bool); !runnable {
		t.Error("mock domain must be runnable")
	}
	if runnable, _ := byName["airline"]["runnable"].(bool); runnable {
		t.Error("airline has no registered implementation")
	}
}

func TestListDomainsRejectsArguments(t *testing.T) {
	tool := NewListDomainsTool(nil)

	result, _ := tool.Execute(context.Background(), map[string]any{"verbose": true})
	if result.Success {
		t.Error("unexpected arguments must be rejected")
	}
}

func TestRunEvaluationArgValidation(t *testing.T) {
	tool := NewRunEvaluationTool(Deps{Run: func(context.Context, runner.RunConfig, runner.Deps) (*runner.Results, error) {
		t.Fatal("run must not be reached on invalid arguments")
		return nil, nil
	}})

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"missing domain", map[string]any{"agentEndpoint": "http://localhost:9999"}, "invalid arguments"},
		{"unknown domain", map[string]any{"domain": "atlantis", "agentEndpoint": "http://localhost:9999"}, "unknown domain 'atlantis'"},
		{"bad endpoint", map[string]any{"domain": "mock", "agentEndpoint": "not-a-url"}, "invalid agentEndpoint"},
		{"wrong trial type", map[string]any{"domain": "mock", "agentEndpoint": "http://localhost:9999", "numTrials": "three"}, "invalid arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), tt.args)
			if result.Success {
				t.Fatal("expected failure")
			}
			if err == nil || !strings.Contains(result.Error, tt.wantErr) {
				t.Errorf("expected error containing %q, got result %q err %v", tt.wantErr, result.Error, err)
			}
			if result.ToolName != "run_evaluation" {
				t.Errorf("unexpected tool name %q", result.ToolName)
			}
		})
	}
}

func TestRunEvaluationExecutes(t *testing.T) {
	var gotCfg runner.RunConfig
	st := store.NewMemoryStore()

	tool := NewRunEvaluationTool(Deps{
		Store:     st,
		AuthToken: "SECRET-XYZ",
		Run: func(_ context.Context, cfg runner.RunConfig, _ runner.Deps) (*runner.Results, error) {
			gotCfg = cfg
			return sampleResults(cfg.Domain), nil
		},
	})

	result, err := tool.Execute(context.Background(), map[string]any{
		"domain":        "mock",
		"agentEndpoint": "http://localhost:9999",
		"numTrials":     2,
		"taskIds":       []any{"mock-1", "mock-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}

	if gotCfg.Domain != "mock" || gotCfg.AgentEndpoint != "http://localhost:9999" {
		t.Errorf("unexpected run config: %+v", gotCfg)
	}
	if gotCfg.AuthToken != "SECRET-XYZ" {
		t.Error("configured token must reach the run config")
	}
	if gotCfg.NumTrials != 2 || len(gotCfg.TaskIDs) != 2 {
		t.Errorf("arguments not mapped: %+v", gotCfg)
	}

	output, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("unexpected output type: %T", result.Output)
	}
	if output["status"] != "completed" || output["stored"] != true {
		t.Errorf("unexpected output: %+v", output)
	}
	summary := output["summary"].(map[string]any)
	if summary["totalSimulations"] != 2 || summary["successfulSimulations"] != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary["successRate"] != 0.5 {
		t.Errorf("expected success rate 0.5, got %v", summary["successRate"])
	}

	evaluationID, _ := output["evaluationId"].(string)
	if evaluationID == "" {
		t.Fatal("expected an evaluation id")
	}
	stored, err := st.GetResult(context.Background(), evaluationID)
	if err != nil {
		t.Fatalf("results not stored: %v", err)
	}
	if stored.Info.Domain != "mock" {
		t.Errorf("unexpected stored results: %+v", stored.Info)
	}

	// The outbound token must never surface in tool output.
	serialised, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}
	if strings.Contains(string(serialised), "SECRET-XYZ") {
		t.Error("auth token leaked into tool result")
	}
}

func TestRunEvaluationWithoutStore(t *testing.T) {
	tool := NewRunEvaluationTool(Deps{
		Run: func(_ context.Context, cfg runner.RunConfig, _ runner.Deps) (*runner.Results, error) {
			return sampleResults(cfg.Domain), nil
		},
	})

	result, err := tool.Execute(context.Background(), map[string]any{
		"domain":        "mock",
		"agentEndpoint": "http://localhost:9999",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := result.Output.(map[string]any)
	if output["stored"] != false {
		t.Error("results must be reported as unstored without a store")
	}
}

func TestRunEvaluationRunFailure(t *testing.T) {
	tool := NewRunEvaluationTool(Deps{
		Run: func(context.Context, runner.RunConfig, runner.Deps) (*runner.Results, error) {
			return nil, context.DeadlineExceeded
		},
	})

	result, err := tool.Execute(context.Background(), map[string]any{
		"domain":        "mock",
		"agentEndpoint": "http://localhost:9999",
	})
	if result.Success || err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "evaluation failed") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestGetEvaluationResults(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SaveResult(context.Background(), "eval-1", sampleResults("mock")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tool := NewGetEvaluationResultsTool(st)

	result, err := tool.Execute(context.Background(), map[string]any{"evaluationId": "eval-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	results, ok := result.Output.(*runner.Results)
	if !ok {
		t.Fatalf("unexpected output type: %T", result.Output)
	}
	if results.Info.Domain != "mock" || len(results.Simulations) != 2 {
		t.Errorf("unexpected results: %+v", results.Info)
	}
	if !strings.Contains(result.Content, "1/2 simulations succeeded") {
		t.Errorf("unexpected content: %q", result.Content)
	}

	missing, err := tool.Execute(context.Background(), map[string]any{"evaluationId": "nope"})
	if missing.Success || err == nil {
		t.Fatal("expected failure for unknown id")
	}
	if !strings.Contains(missing.Error, "no results stored under") {
		t.Errorf("unexpected error: %q", missing.Error)
	}
}

func TestGetEvaluationResultsWithoutStore(t *testing.T) {
	tool := NewGetEvaluationResultsTool(nil)

	result, err := tool.Execute(context.Background(), map[string]any{"evaluationId": "eval-1"})
	if result.Success || err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "persistence is not configured") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestRunEvaluationSchema(t *testing.T) {
	tool := NewRunEvaluationTool(Deps{})
	info := tool.GetInfo()

	required := map[string]bool{}
	optional := map[string]bool{}
	for _, p := range info.Parameters {
		if p.Required {
			required[p.Name] = true
		} else {
			optional[p.Name] = true
		}
	}
	if !required["domain"] || !required["agentEndpoint"] {
		t.Errorf("domain and agentEndpoint must be required: %+v", info.Parameters)
	}
	for _, name := range []string{"userLlm", "numTrials", "numTasks", "taskIds", "maxSteps", "maxErrors", "maxConcurrency"} {
		if !optional[name] {
			t.Errorf("expected optional parameter %q", name)
		}
	}

	// The schema never mentions credentials.
	serialised, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("failed to marshal info: %v", err)
	}
	for _, needle := range []string{"token", "Token", "auth"} {
		if strings.Contains(string(serialised), needle) {
			t.Errorf("schema must not mention %q", needle)
		}
	}
}
