// Package runner is the evaluation orchestrator: it drives scripted
// customer-service scenarios against an agent under test, one conversation
// per task trial, executing the agent's tool calls against the domain
// environment and grading the finished transcript.
//
// The runner is deliberately synchronous per simulation; concurrency exists
// only across simulations, bounded by RunConfig.MaxConcurrency.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wuTims/tau2-bench-agent/pkg/a2a"
	"github.com/wuTims/tau2-bench-agent/pkg/agent"
	"github.com/wuTims/tau2-bench-agent/pkg/chat"
	"github.com/wuTims/tau2-bench-agent/pkg/domains"
	"github.com/wuTims/tau2-bench-agent/pkg/llms"
	"github.com/wuTims/tau2-bench-agent/pkg/metrics"
)

// Default limits applied by RunConfig.SetDefaults.
const (
	DefaultNumTrials      = 1
	DefaultMaxSteps       = 50
	DefaultMaxErrors      = 10
	DefaultMaxConcurrency = 3
)

// Termination reasons recorded on finished simulations.
const (
	TerminationUserStop  = "user_stop"
	TerminationAgentStop = "agent_stop"
	TerminationMaxSteps  = "max_steps"
	TerminationMaxErrors = "too_many_errors"
	TerminationError     = "error"
)

// Agent is the conversational-agent contract the runner drives. The protocol
// adapter in pkg/agent is the canonical implementation.
type Agent interface {
	InitialState(priorHistory []chat.Message) (*agent.TaskSession, error)
	GenerateNextMessage(ctx context.Context, in chat.Message, s *agent.TaskSession) (*chat.AssistantMessage, *agent.TaskSession, error)
	Stop(ctx context.Context) error
	IsStop(msg *chat.AssistantMessage) bool
}

// User is the user-simulator side of a conversation.
type User interface {
	FirstMessage(ctx context.Context) (chat.UserMessage, error)
	NextMessage(ctx context.Context, assistant *chat.AssistantMessage) (chat.UserMessage, error)
}

// MetricsSource is optionally implemented by agents that record protocol
// request metrics; the runner folds them into each simulation's results.
type MetricsSource interface {
	AggregateMetrics() metrics.Aggregate
}

// AgentFactory builds a fresh agent for one simulation.
type AgentFactory func(d domains.Domain) (Agent, error)

// UserFactory builds the user simulator for one task trial.
type UserFactory func(task domains.Task) (User, error)

// IsStopSignal reports whether a turn's content carries the conversation
// termination marker.
func IsStopSignal(content string) bool {
	return strings.Contains(content, chat.StopSignal)
}

// RunConfig describes one evaluation run. The auth token is held in memory
// only and is excluded from serialised forms.
type RunConfig struct {
	Domain         string   `json:"domain"`
	AgentEndpoint  string   `json:"agent_endpoint"`
	AuthToken      string   `json:"-"`
	UserLLM        string   `json:"user_llm,omitempty"`
	TaskIDs        []string `json:"task_ids,omitempty"`
	NumTasks       int      `json:"num_tasks,omitempty"`
	NumTrials      int      `json:"num_trials"`
	MaxSteps       int      `json:"max_steps"`
	MaxErrors      int      `json:"max_errors"`
	MaxConcurrency int      `json:"max_concurrency"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// SetDefaults fills unset fields with the documented defaults.
func (c *RunConfig) SetDefaults() {
	if c.UserLLM == "" {
		c.UserLLM = llms.DefaultOpenAIModel
	}
	if c.NumTrials == 0 {
		c.NumTrials = DefaultNumTrials
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.MaxErrors == 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = a2a.DefaultTimeoutSeconds
	}
}

// Validate rejects configurations the runner cannot execute. Field names in
// errors match the run-request input names.
func (c RunConfig) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if _, err := a2a.NewClientConfig(c.AgentEndpoint); err != nil {
		return fmt.Errorf("invalid agent endpoint: %w", err)
	}
	if c.NumTrials < 1 {
		return fmt.Errorf("numTrials must be at least 1, got %d", c.NumTrials)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("maxSteps must be at least 1, got %d", c.MaxSteps)
	}
	if c.MaxErrors < 1 {
		return fmt.Errorf("maxErrors must be at least 1, got %d", c.MaxErrors)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("maxConcurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.NumTasks < 0 {
		return fmt.Errorf("numTasks must not be negative, got %d", c.NumTasks)
	}
	return nil
}

// Deps supplies the pluggable pieces of a run. Zero-value fields fall back
// to the built-in domain registry, the protocol agent adapter, and the
// scripted-or-LLM user simulator.
type Deps struct {
	Domains  *domains.Registry
	NewAgent AgentFactory
	NewUser  UserFactory
	Logger   *slog.Logger
}

// RunInfo summarises the configuration a result set was produced under. The
// auth token is deliberately absent.
type RunInfo struct {
	Domain        string `json:"domain"`
	AgentEndpoint string `json:"agent_endpoint"`
	AgentType     string `json:"agent_type"`
	UserLLM       string `json:"user_llm,omitempty"`
	NumTrials     int    `json:"num_trials"`
	MaxSteps      int    `json:"max_steps"`
}

// Results is the full outcome of one evaluation run.
type Results struct {
	Timestamp   string         `json:"timestamp"`
	Info        RunInfo        `json:"info"`
	Tasks       []domains.Task `json:"tasks"`
	Simulations []Simulation   `json:"simulations"`
}

// SuccessCount returns how many simulations succeeded.
func (r *Results) SuccessCount() int {
	n := 0
	for _, sim := range r.Simulations {
		if sim.Success {
			n++
		}
	}
	return n
}

// SuccessRate returns the fraction of successful simulations, 0 when none
// ran.
func (r *Results) SuccessRate() float64 {
	if len(r.Simulations) == 0 {
		return 0
	}
	return float64(r.SuccessCount()) / float64(len(r.Simulations))
}

// Simulation is the outcome of one task trial.
type Simulation struct {
	ID                string            `json:"id"`
	TaskID            string            `json:"task_id"`
	Trial             int               `json:"trial"`
	Success           bool              `json:"success"`
	GradeReason       string            `json:"grade_reason,omitempty"`
	TerminationReason string            `json:"termination_reason"`
	Steps             int               `json:"steps"`
	Messages          []RecordedMessage `json:"messages"`
	Metrics           metrics.Aggregate `json:"metrics"`
	Error             string            `json:"error,omitempty"`
}

// RecordedMessage is the role-tagged serialised form of one conversation
// turn, kept flat so stored results stay readable without the message union.
type RecordedMessage struct {
	Role       chat.Role       `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []chat.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

// Run executes one evaluation: it resolves the domain, selects tasks, fans
// task trials out over a bounded worker group, and grades each finished
// conversation. Configuration errors fail the run up-front. Failures at the
// network boundary fail only the simulation they occur in, with two
// exceptions that abort the run because no task could succeed: rejected
// credentials and agent-card discovery failures.
func Run(ctx context.Context, cfg RunConfig, deps Deps) (*Results, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := deps.Domains
	if reg == nil {
		reg = domains.NewRegistry()
	}
	domain, err := domains.Resolve(reg, cfg.Domain)
	if err != nil {
		return nil, err
	}

	tasks, err := domains.SelectTasks(domain.Tasks(), cfg.TaskIDs, cfg.NumTasks)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("domain '%s' has no tasks selected", cfg.Domain)
	}

	state := &runState{
		cfg:      cfg,
		domain:   domain,
		newAgent: deps.NewAgent,
		newUser:  deps.NewUser,
		logger:   logger,
	}
	if state.newAgent == nil {
		state.newAgent = protocolAgentFactory(cfg)
	}
	if state.newUser == nil {
		state.newUser = defaultUserFactory(cfg)
	}

	logger.Info("Evaluation run starting",
		"domain", cfg.Domain,
		"endpoint", cfg.AgentEndpoint,
		"tasks", len(tasks),
		"trials", cfg.NumTrials,
		"concurrency", cfg.MaxConcurrency)

	sims := make([]Simulation, len(tasks)*cfg.NumTrials)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)
	for ti, task := range tasks {
		for trial := 0; trial < cfg.NumTrials; trial++ {
			idx := ti*cfg.NumTrials + trial
			g.Go(func() error {
				sim, err := state.simulate(gctx, task, trial)
				sims[idx] = sim
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluation aborted: %w", err)
	}

	results := &Results{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Info: RunInfo{
			Domain:        cfg.Domain,
			AgentEndpoint: cfg.AgentEndpoint,
			AgentType:     agent.AgentType,
			UserLLM:       cfg.UserLLM,
			NumTrials:     cfg.NumTrials,
			MaxSteps:      cfg.MaxSteps,
		},
		Tasks:       tasks,
		Simulations: sims,
	}

	logger.Info("Evaluation run finished",
		"domain", cfg.Domain,
		"simulations", len(sims),
		"successes", results.SuccessCount())

	return results, nil
}

// runState carries the pieces shared by every simulation of a run.
type runState struct {
	cfg      RunConfig
	domain   domains.Domain
	newAgent AgentFactory
	newUser  UserFactory
	logger   *slog.Logger
}

// simulate drives one conversation to termination and grades it. Failures
// are recorded on the simulation; the returned error is non-nil only for
// conditions that invalidate the whole run: rejected credentials, discovery
// failures, and cancellation.
func (r *runState) simulate(ctx context.Context, task domains.Task, trial int) (Simulation, error) {
	sim := Simulation{
		ID:     fmt.Sprintf("%s-trial-%d", task.ID, trial),
		TaskID: task.ID,
		Trial:  trial,
	}

	if err := ctx.Err(); err != nil {
		return failSimulation(sim, err), err
	}

	ag, err := r.newAgent(r.domain)
	if err != nil {
		return failSimulation(sim, fmt.Errorf("failed to build agent: %w", err)), nil
	}
	defer func() {
		if err := ag.Stop(ctx); err != nil {
			r.logger.Warn("Failed to stop agent", "simulation_id", sim.ID, "error", err)
		}
	}()

	user, err := r.newUser(task)
	if err != nil {
		return failSimulation(sim, fmt.Errorf("failed to build user simulator: %w", err)), nil
	}
	if closer, ok := user.(io.Closer); ok {
		defer closer.Close()
	}

	env := r.domain.Environment()

	session, err := ag.InitialState(nil)
	if err != nil {
		return failSimulation(sim, fmt.Errorf("failed to initialise session: %w", err)), nil
	}

	first, err := user.FirstMessage(ctx)
	if err != nil {
		return failSimulation(sim, fmt.Errorf("user simulator failed: %w", err)), nil
	}

	var in chat.Message = first
	var stopTurn chat.Message
	errorCount := 0

	for sim.Steps < r.cfg.MaxSteps {
		if um, ok := in.(chat.UserMessage); ok && IsStopSignal(um.Content) {
			sim.TerminationReason = TerminationUserStop
			stopTurn = um
			break
		}

		reply, next, err := ag.GenerateNextMessage(ctx, in, session)
		if err != nil {
			if abortsRun(err) {
				return failSimulation(sim, err), err
			}
			if ctx.Err() != nil {
				return failSimulation(sim, err), ctx.Err()
			}
			errorCount++
			r.logger.Warn("Agent turn failed",
				"simulation_id", sim.ID,
				"errors", errorCount,
				"error", err)
			if errorCount >= r.cfg.MaxErrors {
				sim.TerminationReason = TerminationMaxErrors
				sim.Error = err.Error()
				break
			}
			// The session is unchanged on failure, so the same turn is
			// retried as-is.
			continue
		}
		session = next
		sim.Steps++

		if ag.IsStop(reply) {
			sim.TerminationReason = TerminationAgentStop
			break
		}

		if reply.IsToolCall() {
			results := make([]chat.ToolMessage, 0, len(reply.ToolCalls))
			for _, call := range reply.ToolCalls {
				tm := env.Execute(ctx, call)
				if tm.Error {
					errorCount++
				}
				results = append(results, tm)
			}
			if errorCount >= r.cfg.MaxErrors {
				sim.TerminationReason = TerminationMaxErrors
				break
			}
			if len(results) == 1 {
				in = results[0]
			} else {
				in = chat.MultiToolMessage{ToolMessages: results}
			}
			continue
		}

		userMsg, err := user.NextMessage(ctx, reply)
		if err != nil {
			sim.TerminationReason = TerminationError
			sim.Error = err.Error()
			break
		}
		in = userMsg
	}

	if sim.TerminationReason == "" {
		sim.TerminationReason = TerminationMaxSteps
	}

	sim.Messages = recordMessages(session.History, stopTurn)

	grade := env.Grade(task, session.History)
	sim.Success = grade.Success
	sim.GradeReason = grade.Reason

	if src, ok := ag.(MetricsSource); ok {
		sim.Metrics = src.AggregateMetrics()
	}

	r.logger.Info("Simulation finished",
		"simulation_id", sim.ID,
		"task_id", task.ID,
		"trial", trial,
		"success", sim.Success,
		"termination", sim.TerminationReason,
		"steps", sim.Steps)

	return sim, nil
}

// abortsRun reports whether a turn failure invalidates the whole run rather
// than the one simulation it occurred in: rejected credentials and agent
// card discovery failures affect every task alike.
func abortsRun(err error) bool {
	if a2a.IsProtocolKind(err, a2a.ProtocolUnauthorized) {
		return true
	}
	var de *a2a.DiscoveryError
	return errors.As(err, &de)
}

func failSimulation(sim Simulation, err error) Simulation {
	sim.TerminationReason = TerminationError
	sim.Error = err.Error()
	return sim
}

// recordMessages flattens a conversation into role-tagged records. Trailing
// turns that never reached the agent (the user's stop signal) are appended
// when non-nil.
func recordMessages(history []chat.Message, extra ...chat.Message) []RecordedMessage {
	out := make([]RecordedMessage, 0, len(history)+len(extra))
	record := func(msg chat.Message) {
		switch m := msg.(type) {
		case chat.SystemMessage:
			out = append(out, RecordedMessage{Role: chat.RoleSystem, Content: m.Content})
		case chat.UserMessage:
			out = append(out, RecordedMessage{Role: chat.RoleUser, Content: m.Content})
		case chat.AssistantMessage:
			out = append(out, RecordedMessage{Role: chat.RoleAssistant, Content: m.Content, ToolCalls: m.ToolCalls})
		case chat.ToolMessage:
			out = append(out, RecordedMessage{
				Role:       chat.RoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				ToolName:   m.ToolName,
				IsError:    m.Error,
			})
		case chat.MultiToolMessage:
			for _, tm := range m.ToolMessages {
				out = append(out, RecordedMessage{
					Role:       chat.RoleTool,
					Content:    tm.Content,
					ToolCallID: tm.ToolCallID,
					ToolName:   tm.ToolName,
					IsError:    tm.Error,
				})
			}
		}
	}
	for _, msg := range history {
		record(msg)
	}
	for _, msg := range extra {
		if msg != nil {
			record(msg)
		}
	}
	return out
}

// protocolAgentFactory builds one fresh protocol adapter per simulation so
// each simulation gets its own connection pool, card cache and metrics
// recorder.
func protocolAgentFactory(cfg RunConfig) AgentFactory {
	return func(d domains.Domain) (Agent, error) {
		clientCfg, err := a2a.NewClientConfig(cfg.AgentEndpoint)
		if err != nil {
			return nil, err
		}
		clientCfg.AuthToken = cfg.AuthToken
		clientCfg.TimeoutSeconds = cfg.TimeoutSeconds
		return agent.New(agent.Config{
			Client: clientCfg,
			Policy: d.PolicyText(),
			Tools:  d.Tools(),
		})
	}
}

// defaultUserFactory picks the scripted simulator for tasks that carry a
// script and an LLM-backed one otherwise.
func defaultUserFactory(cfg RunConfig) UserFactory {
	return func(task domains.Task) (User, error) {
		if len(task.UserScript) > 0 {
			return domains.NewScriptedUser(task.UserScript), nil
		}
		provider, err := llms.New(llms.Config{Model: cfg.UserLLM})
		if err != nil {
			return nil, fmt.Errorf("failed to create user simulator LLM: %w", err)
		}
		return NewLLMUser(provider, task.Description), nil
	}
}
