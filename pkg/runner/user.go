package runner

import (
	"context"
	"fmt"
	"slices"

	"github.com/wuTims/tau2-bench-agent/pkg/chat"
	"github.com/wuTims/tau2-bench-agent/pkg/llms"
)

// agentGreeting opens every simulated conversation from the agent's side so
// the user model has something to respond to.
const agentGreeting = "Hi! How can I help you today?"

// userSimInstruction frames the simulator model as the customer. The model
// plays the user, so agent turns are fed back to it as user-role messages.
const userSimInstruction = `You are role-playing a customer talking to a customer service agent.
Stay in character and pursue the scenario below one step at a time, giving
only the information the agent asks for. Reply with plain text, one short
message per turn. When your goal is fully resolved, or you have nothing
further to ask, reply with exactly %s.

Scenario:
%s`

// LLMUser simulates the customer with a chat-completion provider.
type LLMUser struct {
	provider llms.Provider
	history  []llms.Message
}

// NewLLMUser builds a simulator for one task trial. The scenario is the
// task's description, shown to the model once in its system prompt.
func NewLLMUser(provider llms.Provider, scenario string) *LLMUser {
	return &LLMUser{
		provider: provider,
		history: []llms.Message{{
			Role:    llms.RoleSystem,
			Content: fmt.Sprintf(userSimInstruction, chat.StopSignal, scenario),
		}},
	}
}

// FirstMessage opens the conversation by feeding the model the canonical
// agent greeting.
func (u *LLMUser) FirstMessage(ctx context.Context) (chat.UserMessage, error) {
	return u.NextMessage(ctx, &chat.AssistantMessage{Content: agentGreeting})
}

// NextMessage generates the customer's reply to the agent's last turn. The
// transcript is committed only on success so a failed generation can be
// retried without duplicating turns.
func (u *LLMUser) NextMessage(ctx context.Context, assistant *chat.AssistantMessage) (chat.UserMessage, error) {
	var content string
	if assistant != nil {
		content = assistant.Content
	}
	prompt := append(slices.Clip(u.history), llms.Message{Role: llms.RoleUser, Content: content})

	text, _, _, err := u.provider.Generate(ctx, prompt, nil)
	if err != nil {
		return chat.UserMessage{}, fmt.Errorf("user simulator failed: %w", err)
	}

	u.history = append(prompt, llms.Message{Role: llms.RoleAssistant, Content: text})
	return chat.UserMessage{Content: text}, nil
}

// Close releases the underlying provider.
func (u *LLMUser) Close() error {
	return u.provider.Close()
}
