package session

import (
	"context"
	"testing"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/databases"
	"github.com/wuTims/tau2-bench-agent/pkg/llms"
)

func TestMemoryServiceCreateAndGet(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{
		ContextID: "ctx-1",
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Session.ContextID != "ctx-1" {
		t.Errorf("unexpected context ID: %q", created.Session.ContextID)
	}
	if created.Session.CreatedAt.IsZero() || created.Session.UpdatedAt.IsZero() {
		t.Error("timestamps must be set on create")
	}

	got, err := svc.Get(ctx, &GetRequest{ContextID: "ctx-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Session.Messages) != 1 || got.Session.Messages[0].Content != "hello" {
		t.Errorf("seed messages lost: %+v", got.Session.Messages)
	}

	if _, err := svc.Get(ctx, &GetRequest{ContextID: "nope"}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryServiceGeneratesContextID(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created.Session.ContextID) != 36 {
		t.Errorf("expected generated uuid, got %q", created.Session.ContextID)
	}

	if _, err := svc.Create(ctx, &CreateRequest{ContextID: created.Session.ContextID}); err != ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestMemoryServiceAppendMessage(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, &CreateRequest{ContextID: "ctx-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turns := []llms.Message{
		{Role: llms.RoleUser, Content: "first"},
		{Role: llms.RoleAssistant, Content: "second"},
	}
	for _, msg := range turns {
		if err := svc.AppendMessage(ctx, "ctx-1", msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := svc.Get(ctx, &GetRequest{ContextID: "ctx-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Session.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Session.Messages))
	}
	for i, want := range turns {
		if got.Session.Messages[i].Content != want.Content {
			t.Errorf("message %d: expected %q, got %q", i, want.Content, got.Session.Messages[i].Content)
		}
	}
	if got.Session.UpdatedAt.Before(got.Session.CreatedAt) {
		t.Error("append must advance the update time")
	}

	if err := svc.AppendMessage(ctx, "nope", turns[0]); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryServiceReturnsSnapshots(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, &CreateRequest{
		ContextID: "ctx-1",
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: "original"}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := svc.Get(ctx, &GetRequest{ContextID: "ctx-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first.Session.Messages[0].Content = "tampered"
	first.Session.Messages = append(first.Session.Messages, llms.Message{Role: llms.RoleUser, Content: "extra"})

	second, err := svc.Get(ctx, &GetRequest{ContextID: "ctx-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.Session.Messages) != 1 || second.Session.Messages[0].Content != "original" {
		t.Errorf("stored session mutated through a snapshot: %+v", second.Session.Messages)
	}
}

func TestMemoryServiceListOrdersByRecency(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	for _, id := range []string{"ctx-a", "ctx-b", "ctx-c"} {
		if _, err := svc.Create(ctx, &CreateRequest{ContextID: id}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := svc.AppendMessage(ctx, "ctx-a", llms.Message{Role: llms.RoleUser, Content: "bump"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, err := svc.List(ctx, &ListRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed.Sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(listed.Sessions))
	}
	if listed.Sessions[0].ContextID != "ctx-a" {
		t.Errorf("expected most recently touched session first, got %q", listed.Sessions[0].ContextID)
	}

	limited, err := svc.List(ctx, &ListRequest{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited.Sessions) != 2 {
		t.Errorf("expected 2 sessions with limit, got %d", len(limited.Sessions))
	}
}

func TestMemoryServiceDeleteIsIdempotent(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, &CreateRequest{ContextID: "ctx-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Delete(ctx, &DeleteRequest{ContextID: "ctx-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Get(ctx, &GetRequest{ContextID: "ctx-1"}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Delete(ctx, &DeleteRequest{ContextID: "ctx-1"}); err != nil {
		t.Errorf("deleting an absent session must not fail, got %v", err)
	}
}

func TestSQLServiceRoundTrip(t *testing.T) {
	svc, err := OpenSQLService(databases.Config{Driver: databases.DialectSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open service: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{
		ContextID: "ctx-sql",
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Session.ContextID != "ctx-sql" {
		t.Errorf("unexpected context ID: %q", created.Session.ContextID)
	}

	if _, err := svc.Create(ctx, &CreateRequest{ContextID: "ctx-sql"}); err != ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}

	if err := svc.AppendMessage(ctx, "ctx-sql", llms.Message{
		Role:    llms.RoleAssistant,
		Content: "hi there",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.Get(ctx, &GetRequest{ContextID: "ctx-sql"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Session.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Session.Messages))
	}
	if got.Session.Messages[1].Role != llms.RoleAssistant || got.Session.Messages[1].Content != "hi there" {
		t.Errorf("appended message lost: %+v", got.Session.Messages[1])
	}

	if _, err := svc.Get(ctx, &GetRequest{ContextID: "nope"}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if _, err := svc.Create(ctx, &CreateRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, err := svc.List(ctx, &ListRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(listed.Sessions))
	}

	limited, err := svc.List(ctx, &ListRequest{Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited.Sessions) != 1 {
		t.Errorf("expected 1 session with limit, got %d", len(limited.Sessions))
	}

	if err := svc.Delete(ctx, &DeleteRequest{ContextID: "ctx-sql"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Get(ctx, &GetRequest{ContextID: "ctx-sql"}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
