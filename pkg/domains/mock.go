package domains

import (
	"context"
	"fmt"
	"sync"

	"github.com/wuTims/tau2-bench-agent/pkg/chat"
)

// MockName is the registry name of the built-in development domain.
const MockName = "mock"

const mockPolicy = `You are a customer service agent for a small web store.
Help the customer using the available tools. Look information up instead of
guessing, confirm destructive actions such as cancellations with the customer
before executing them, and report tool results back faithfully.`

// Mock is the built-in development domain: a tiny web-store back office with
// deterministic data, scripted customers, and substring grading.
type Mock struct{}

// NewMock returns the mock domain.
func NewMock() *Mock { return &Mock{} }

func (*Mock) Name() string       { return MockName }
func (*Mock) PolicyText() string { return mockPolicy }

func (*Mock) Tools() []chat.Tool {
	return []chat.Tool{
		{
			Name:        "get_order_status",
			Description: "Look up the current status of an order",
			Parameters:  objectSchema(map[string]string{"order_id": "string"}, "order_id"),
		},
		{
			Name:        "cancel_order",
			Description: "Cancel an order that has not shipped yet",
			Parameters:  objectSchema(map[string]string{"order_id": "string"}, "order_id"),
		},
		{
			Name:        "update_address",
			Description: "Change the delivery address of an order",
			Parameters:  objectSchema(map[string]string{"order_id": "string", "address": "string"}, "order_id", "address"),
		},
		{
			Name:        "get_balance",
			Description: "Get a customer's store credit balance",
			Parameters:  objectSchema(map[string]string{"customer_id": "string"}, "customer_id"),
		},
		{
			Name:        "escalate_to_human",
			Description: "Hand the conversation over to a human agent",
			Parameters:  objectSchema(map[string]string{"reason": "string"}, "reason"),
		},
	}
}

func (*Mock) Tasks() []Task {
	return []Task{
		{
			ID:          "mock-1",
			Name:        "order status lookup",
			Description: "The customer wants to know where order ORD-1001 is.",
			UserScript: []string{
				"Hi! Could you check the status of my order ORD-1001?",
				"Great, that's all I needed.",
			},
			SuccessWhen: []string{"shipped"},
		},
		{
			ID:          "mock-2",
			Name:        "order cancellation",
			Description: "The customer ordered ORD-1002 by mistake and wants it cancelled.",
			UserScript: []string{
				"I need to cancel order ORD-1002, I ordered it by mistake.",
				"Yes, I'm sure. Please cancel it.",
			},
			SuccessWhen: []string{"cancelled"},
		},
		{
			ID:          "mock-3",
			Name:        "address update",
			Description: "The customer moved and needs the delivery address of ORD-1003 changed.",
			UserScript: []string{
				"I moved recently. Please change the delivery address for ORD-1003 to 42 Galaxy Way.",
				"That's correct, thanks!",
			},
			SuccessWhen: []string{"42 Galaxy Way"},
		},
		{
			ID:          "mock-4",
			Name:        "balance inquiry",
			Description: "The customer asks how much store credit account CUST-7 holds.",
			UserScript: []string{
				"How much store credit does customer CUST-7 have?",
			},
			SuccessWhen: []string{"$250.00"},
		},
		{
			ID:          "mock-5",
			Name:        "escalation",
			Description: "The customer is upset and demands a human.",
			UserScript: []string{
				"Your last delivery destroyed my garden gnome and I demand to speak with a human right now.",
			},
			SuccessWhen: []string{"human"},
		},
	}
}

// Environment returns a fresh store state; simulations never share one.
func (*Mock) Environment() Environment {
	return &mockEnv{
		orders: map[string]*mockOrder{
			"ORD-1001": {Status: "shipped", Address: "7 Maple Street"},
			"ORD-1002": {Status: "processing", Address: "19 Harbor Lane"},
			"ORD-1003": {Status: "processing", Address: "1 Old Road"},
		},
		balances: map[string]string{
			"CUST-7": "$250.00",
		},
	}
}

type mockOrder struct {
	Status  string
	Address string
}

type mockEnv struct {
	mu        sync.Mutex
	orders    map[string]*mockOrder
	balances  map[string]string
	escalated bool
}

func (e *mockEnv) Execute(_ context.Context, call chat.ToolCall) chat.ToolMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := func(content string) chat.ToolMessage {
		return chat.ToolMessage{ToolCallID: call.ID, ToolName: call.Name, Content: content}
	}
	fail := func(content string) chat.ToolMessage {
		return chat.ToolMessage{ToolCallID: call.ID, ToolName: call.Name, Content: content, Error: true}
	}

	switch call.Name {
	case "get_order_status":
		id, ok := stringArg(call.Arguments, "order_id")
		if !ok {
			return fail("missing required argument 'order_id'")
		}
		order, ok := e.orders[id]
		if !ok {
			return fail(fmt.Sprintf("order %s not found", id))
		}
		return result(fmt.Sprintf("Order %s is %s. Delivery address: %s.", id, order.Status, order.Address))

	case "cancel_order":
		id, ok := stringArg(call.Arguments, "order_id")
		if !ok {
			return fail("missing required argument 'order_id'")
		}
		order, ok := e.orders[id]
		if !ok {
			return fail(fmt.Sprintf("order %s not found", id))
		}
		if order.Status == "shipped" {
			return fail(fmt.Sprintf("order %s has already shipped and cannot be cancelled", id))
		}
		if order.Status == "cancelled" {
			return fail(fmt.Sprintf("order %s is already cancelled", id))
		}
		order.Status = "cancelled"
		return result(fmt.Sprintf("Order %s has been cancelled. A refund will be issued within 3 business days.", id))

	case "update_address":
		id, ok := stringArg(call.Arguments, "order_id")
		if !ok {
			return fail("missing required argument 'order_id'")
		}
		address, ok := stringArg(call.Arguments, "address")
		if !ok {
			return fail("missing required argument 'address'")
		}
		order, ok := e.orders[id]
		if !ok {
			return fail(fmt.Sprintf("order %s not found", id))
		}
		if order.Status == "shipped" {
			return fail(fmt.Sprintf("order %s has already shipped, the address can no longer be changed", id))
		}
		order.Address = address
		return result(fmt.Sprintf("Delivery address for order %s updated to %s.", id, address))

	case "get_balance":
		id, ok := stringArg(call.Arguments, "customer_id")
		if !ok {
			return fail("missing required argument 'customer_id'")
		}
		balance, ok := e.balances[id]
		if !ok {
			return fail(fmt.Sprintf("customer %s not found", id))
		}
		return result(fmt.Sprintf("Customer %s has a store credit balance of %s.", id, balance))

	case "escalate_to_human":
		reason, _ := stringArg(call.Arguments, "reason")
		e.escalated = true
		if reason == "" {
			reason = "unspecified"
		}
		return result(fmt.Sprintf("The conversation has been escalated to a human agent (reason: %s). Reference: ESC-1042.", reason))

	default:
		return fail(fmt.Sprintf("unknown tool '%s'", call.Name))
	}
}

func (e *mockEnv) Grade(task Task, history []chat.Message) GradeResult {
	return GradeBySubstrings(task, history)
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// objectSchema builds the JSON-schema object the tool renderer expects.
func objectSchema(props map[string]string, required ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, typ := range props {
		properties[name] = map[string]any{"type": typ}
	}
	req := make([]any, 0, len(required))
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   req,
	}
}
