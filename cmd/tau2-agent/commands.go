package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wuTims/tau2-bench-agent/pkg/a2a"
	"github.com/wuTims/tau2-bench-agent/pkg/domains"
	"github.com/wuTims/tau2-bench-agent/pkg/logger"
	"github.com/wuTims/tau2-bench-agent/pkg/runner"
)

// EvaluateCmd runs one evaluation directly, without going through the
// service's LLM controller. The outbound auth token comes from the config
// file or environment, never from a flag.
type EvaluateCmd struct {
	Domain      string   `help:"Benchmark domain to evaluate." required:""`
	Endpoint    string   `help:"Base URL of the agent under test." required:""`
	TaskIDs     []string `name:"task-ids" help:"Specific task IDs to run."`
	NumTasks    int      `name:"num-tasks" help:"Number of tasks to run; zero runs all."`
	Trials      int      `help:"Trials per task." default:"1"`
	MaxSteps    int      `name:"max-steps" help:"Maximum agent turns per simulation." default:"50"`
	MaxErrors   int      `name:"max-errors" help:"Maximum tolerated errors per simulation." default:"10"`
	Concurrency int      `help:"Simulations run in parallel." default:"3"`
	UserLLM     string   `name:"user-llm" help:"User simulator model." default:"gpt-4o"`
	Timeout     int      `help:"Per-request timeout in seconds against the agent."`
	Output      string   `help:"Write the full results JSON to this file." type:"path"`
}

func (c *EvaluateCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if !domains.IsCatalogued(c.Domain) {
		names := make([]string, 0, 4)
		for _, info := range domains.Catalogue() {
			names = append(names, info.Name)
		}
		return fmt.Errorf("unknown domain %q (available: %s)", c.Domain, strings.Join(names, ", "))
	}

	runCfg := runner.RunConfig{
		Domain:         c.Domain,
		AgentEndpoint:  c.Endpoint,
		AuthToken:      cfg.Client.AuthToken,
		UserLLM:        c.UserLLM,
		TaskIDs:        c.TaskIDs,
		NumTasks:       c.NumTasks,
		NumTrials:      c.Trials,
		MaxSteps:       c.MaxSteps,
		MaxErrors:      c.MaxErrors,
		MaxConcurrency: c.Concurrency,
		TimeoutSeconds: c.Timeout,
	}

	results, err := runner.Run(ctx, runCfg, runner.Deps{
		Domains: domains.NewRegistry(),
		Logger:  logger.GetLogger(),
	})
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if c.Output != "" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		if err := os.WriteFile(c.Output, data, 0644); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Results written to %s\n", c.Output)
	}

	return printSummary(results)
}

// printSummary aggregates the per-simulation metrics and prints one JSON
// object to stdout.
func printSummary(results *runner.Results) error {
	totalRequests, totalTokens, errorCount := 0, 0, 0
	for _, sim := range results.Simulations {
		totalRequests += sim.Metrics.TotalRequests
		totalTokens += sim.Metrics.TotalTokens
		errorCount += sim.Metrics.ErrorCount
	}

	summary := map[string]any{
		"domain":        results.Info.Domain,
		"endpoint":      results.Info.AgentEndpoint,
		"tasks":         len(results.Tasks),
		"simulations":   len(results.Simulations),
		"successes":     results.SuccessCount(),
		"successRate":   results.SuccessRate(),
		"agentRequests": totalRequests,
		"tokens":        totalTokens,
		"requestErrors": errorCount,
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// DomainsCmd prints the benchmark domain catalogue.
type DomainsCmd struct {
	JSON bool `help:"Print the catalogue as JSON."`
}

func (c *DomainsCmd) Run(cli *CLI) error {
	infos := domains.Catalogue()

	if c.JSON {
		out, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("%-10s %5s  %s\n", "NAME", "TASKS", "DESCRIPTION")
	for _, info := range infos {
		fmt.Printf("%-10s %5d  %s\n", info.Name, info.TaskCount, info.Description)
	}
	return nil
}

// CardCmd fetches and pretty-prints a remote agent card.
type CardCmd struct {
	Endpoint  string `help:"Base URL of the remote agent." required:""`
	AuthToken string `name:"auth-token" help:"Bearer token for protected agents." env:"AGENT_AUTH_TOKEN"`
	Timeout   int    `help:"Request timeout in seconds." default:"30"`
}

func (c *CardCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ccfg, err := a2a.NewClientConfig(c.Endpoint)
	if err != nil {
		return err
	}
	ccfg.AuthToken = c.AuthToken
	if c.Timeout > 0 {
		ccfg.TimeoutSeconds = c.Timeout
	}

	client, err := a2a.NewClient(ccfg)
	if err != nil {
		return err
	}
	defer client.Close()

	card, err := client.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	out, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
