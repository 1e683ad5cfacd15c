// Package domains holds the evaluation domain catalogue and the domain
// abstraction the runner drives: policy text, tool schemas, tasks, and a
// per-simulation environment that executes tool calls and grades outcomes.
//
// Four domains are catalogued (airline, retail, telecom, mock). Only the mock
// domain ships an implementation here; the full airline/retail/telecom task
// sets are distributed separately and register through the same interface.
package domains

import (
	"context"
	"fmt"
	"strings"

	"github.com/wuTims/tau2-bench-agent/pkg/chat"
	"github.com/wuTims/tau2-bench-agent/pkg/registry"
)

// Info is one catalogue entry.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TaskCount   int    `json:"taskCount"`
}

// Catalogue returns the advertised domains in their canonical order.
func Catalogue() []Info {
	return []Info{
		{Name: "airline", Description: "Airline customer service (flights, bookings, cancellations)", TaskCount: 45},
		{Name: "retail", Description: "Retail e-commerce (orders, returns, exchanges)", TaskCount: 39},
		{Name: "telecom", Description: "Telecommunications support (technical issues, billing)", TaskCount: 50},
		{Name: "mock", Description: "Simple test domain for development", TaskCount: 5},
	}
}

// IsCatalogued reports whether name appears in the catalogue.
func IsCatalogued(name string) bool {
	for _, info := range Catalogue() {
		if info.Name == name {
			return true
		}
	}
	return false
}

// Task is one evaluation scenario: what the simulated user wants, the turns
// they are scripted to take, and the phrases the agent must have communicated
// for the simulation to count as a success.
type Task struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	UserScript  []string `json:"user_script,omitempty"`
	SuccessWhen []string `json:"success_when,omitempty"`
}

// GradeResult is the outcome of grading one simulation.
type GradeResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Environment executes tool calls against domain state and grades finished
// conversations. One environment serves one simulation; Domain.Environment
// hands out a fresh one each time.
type Environment interface {
	Execute(ctx context.Context, call chat.ToolCall) chat.ToolMessage
	Grade(task Task, history []chat.Message) GradeResult
}

// Domain is an evaluation domain the runner can drive.
type Domain interface {
	Name() string
	PolicyText() string
	Tools() []chat.Tool
	Tasks() []Task
	Environment() Environment
}

// Registry maps domain names to implementations.
type Registry = registry.Registry[Domain]

// NewRegistry returns a registry with the built-in domains registered.
func NewRegistry() *Registry {
	reg := registry.New[Domain]()
	// Registering a fixed name into a fresh registry cannot collide.
	_ = reg.Register(MockName, NewMock())
	return reg
}

// Resolve looks a domain up by name, distinguishing names that are catalogued
// but not implemented in this build from names that are simply unknown.
func Resolve(reg *Registry, name string) (Domain, error) {
	if d, ok := reg.Get(name); ok {
		return d, nil
	}
	if IsCatalogued(name) {
		return nil, fmt.Errorf("domain '%s' is catalogued but no implementation is registered", name)
	}
	return nil, fmt.Errorf("unknown domain '%s'", name)
}

// SelectTasks filters a domain's tasks by explicit IDs, then caps the count.
// Empty ids means all tasks; limit <= 0 means no cap.
func SelectTasks(all []Task, ids []string, limit int) ([]Task, error) {
	tasks := all
	if len(ids) > 0 {
		byID := make(map[string]Task, len(all))
		for _, t := range all {
			byID[t.ID] = t
		}
		tasks = make([]Task, 0, len(ids))
		for _, id := range ids {
			t, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("task '%s' not found", id)
			}
			tasks = append(tasks, t)
		}
	}
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// GradeBySubstrings passes when every expected phrase occurs, case
// insensitively, in what the assistant said during the conversation.
func GradeBySubstrings(task Task, history []chat.Message) GradeResult {
	var said strings.Builder
	for _, msg := range history {
		if m, ok := msg.(chat.AssistantMessage); ok && m.Content != "" {
			said.WriteString(m.Content)
			said.WriteString("\n")
		}
	}
	haystack := strings.ToLower(said.String())

	for _, want := range task.SuccessWhen {
		if !strings.Contains(haystack, strings.ToLower(want)) {
			return GradeResult{Reason: fmt.Sprintf("agent never communicated %q", want)}
		}
	}
	return GradeResult{Success: true}
}

// ScriptedUser replays a fixed sequence of user turns and then signals the
// conversation to stop. It satisfies the runner's user-simulator contract
// without any network dependency.
type ScriptedUser struct {
	turns []string
	next  int
}

// NewScriptedUser builds a simulator over the given turns.
func NewScriptedUser(turns []string) *ScriptedUser {
	return &ScriptedUser{turns: turns}
}

// FirstMessage returns the opening user turn.
func (u *ScriptedUser) FirstMessage(ctx context.Context) (chat.UserMessage, error) {
	return u.NextMessage(ctx, nil)
}

// NextMessage returns the next scripted turn, or the stop signal once the
// script is exhausted.
func (u *ScriptedUser) NextMessage(_ context.Context, _ *chat.AssistantMessage) (chat.UserMessage, error) {
	if u.next >= len(u.turns) {
		return chat.UserMessage{Content: chat.StopSignal}, nil
	}
	msg := chat.UserMessage{Content: u.turns[u.next]}
	u.next++
	return msg, nil
}
