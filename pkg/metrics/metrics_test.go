package metrics

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestAggregated(t *testing.T) {
	requests := []*Request{
		{RequestID: "r1", LatencyMs: 100, InputTokens: 10, OutputTokens: 20},
		{RequestID: "r2", LatencyMs: 300, InputTokens: 5, OutputTokens: 5},
		{RequestID: "r3", LatencyMs: 200, Error: "timeout"},
	}

	agg := Aggregated(requests)

	if agg.TotalRequests != 3 {
		t.Errorf("expected 3 total requests, got %d", agg.TotalRequests)
	}
	if agg.TotalTokens != 40 {
		t.Errorf("expected 40 total tokens, got %d", agg.TotalTokens)
	}
	if agg.TotalLatencyMs != 600 {
		t.Errorf("expected 600ms total latency, got %f", agg.TotalLatencyMs)
	}
	if agg.AvgLatencyMs != 200 {
		t.Errorf("expected 200ms average latency, got %f", agg.AvgLatencyMs)
	}
	if agg.ErrorCount != 1 {
		t.Errorf("expected 1 error, got %d", agg.ErrorCount)
	}
}

func TestAggregatedEmpty(t *testing.T) {
	agg := Aggregated(nil)

	if agg.TotalRequests != 0 {
		t.Errorf("expected 0 requests, got %d", agg.TotalRequests)
	}
	if agg.AvgLatencyMs != 0 {
		t.Errorf("expected zero average for empty input, got %f", agg.AvgLatencyMs)
	}
}

func TestRecorderConcurrentAppend(t *testing.T) {
	rec := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rec.Record(NewRequest("req", "http://agent", "POST"))
			}
		}()
	}
	wg.Wait()

	if rec.Len() != 1000 {
		t.Errorf("expected 1000 recorded metrics, got %d", rec.Len())
	}
}

func TestRecorderSnapshotIsCopy(t *testing.T) {
	rec := NewRecorder()
	rec.Record(&Request{RequestID: "r1", LatencyMs: 1})

	snap := rec.Snapshot()
	snap[0] = nil
	rec.Record(&Request{RequestID: "r2", LatencyMs: 2})

	again := rec.Snapshot()
	if len(again) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(again))
	}
	if again[0] == nil || again[0].RequestID != "r1" {
		t.Error("snapshot mutation leaked into recorder state")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"hello world!", 3},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestNilTokenCounterFallsBack(t *testing.T) {
	var tc *TokenCounter
	if got := tc.Count("abcdefgh"); got != 2 {
		t.Errorf("expected estimate fallback of 2, got %d", got)
	}
}

func TestExportShape(t *testing.T) {
	rec := NewRecorder()
	rec.Record(&Request{RequestID: "r1", LatencyMs: 50, InputTokens: 4, OutputTokens: 6, ContextID: "ctx-1"})
	rec.Record(&Request{RequestID: "r2", LatencyMs: 150, Error: "timeout"})

	export := BuildExport(rec, "task-9", "a2a_agent")

	data, err := json.Marshal(export)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["task_id"] != "task-9" {
		t.Errorf("expected task_id task-9, got %v", decoded["task_id"])
	}
	if decoded["agent_type"] != "a2a_agent" {
		t.Errorf("expected agent_type a2a_agent, got %v", decoded["agent_type"])
	}

	summary, ok := decoded["summary"].(map[string]any)
	if !ok {
		t.Fatal("expected summary object")
	}
	if summary["total_requests"].(float64) != 2 {
		t.Errorf("expected 2 total requests, got %v", summary["total_requests"])
	}
	if summary["total_tokens"].(float64) != 10 {
		t.Errorf("expected 10 total tokens, got %v", summary["total_tokens"])
	}
	if summary["error_count"].(float64) != 1 {
		t.Errorf("expected 1 error, got %v", summary["error_count"])
	}

	// Timeout entries carry the error and omit the status code.
	entries, ok := decoded["protocol_metrics"].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("expected 2 protocol_metrics entries, got %v", decoded["protocol_metrics"])
	}
	second := entries[1].(map[string]any)
	if second["error"] != "timeout" {
		t.Errorf("expected error=timeout, got %v", second["error"])
	}
	if _, present := second["status_code"]; present {
		t.Error("status_code should be omitted when unset")
	}
}
