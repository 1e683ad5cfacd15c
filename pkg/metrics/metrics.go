// Package metrics records per-request measurements for agent protocol
// calls and computes aggregate statistics once a run has finished.
package metrics

import (
	"sync"
	"time"
)

// ============================================================================
// REQUEST METRICS
// ============================================================================

// Request is one protocol round-trip measurement. StatusCode, token counts,
// ContextID, and Error are recorded when known and omitted otherwise.
type Request struct {
	RequestID    string  `json:"request_id"`
	Endpoint     string  `json:"endpoint"`
	Method       string  `json:"method"`
	StatusCode   int     `json:"status_code,omitempty"`
	LatencyMs    float64 `json:"latency_ms"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	ContextID    string  `json:"context_id,omitempty"`
	Error        string  `json:"error,omitempty"`
	Timestamp    string  `json:"timestamp"`
}

// NewRequest stamps a measurement with the current UTC time.
func NewRequest(requestID, endpoint, method string) *Request {
	return &Request{
		RequestID: requestID,
		Endpoint:  endpoint,
		Method:    method,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Aggregate is the post-run summary over a set of request metrics.
type Aggregate struct {
	TotalRequests  int     `json:"total_requests"`
	TotalTokens    int     `json:"total_tokens"`
	TotalLatencyMs float64 `json:"total_latency_ms"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	ErrorCount     int     `json:"error_count"`
}

// Aggregated computes summary statistics from a list of request metrics.
// AvgLatencyMs is zero when the list is empty.
func Aggregated(requests []*Request) Aggregate {
	agg := Aggregate{TotalRequests: len(requests)}
	for _, r := range requests {
		agg.TotalTokens += r.InputTokens + r.OutputTokens
		agg.TotalLatencyMs += r.LatencyMs
		if r.Error != "" {
			agg.ErrorCount++
		}
	}
	if agg.TotalRequests > 0 {
		agg.AvgLatencyMs = agg.TotalLatencyMs / float64(agg.TotalRequests)
	}
	return agg
}

// ============================================================================
// RECORDER
// ============================================================================

// Recorder is an append-only log of request metrics. Appends are safe from
// concurrent goroutines; aggregation is meant to run after writers finish.
type Recorder struct {
	mu       sync.Mutex
	requests []*Request
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one measurement. Nil entries are ignored.
func (r *Recorder) Record(req *Request) {
	if req == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

// Snapshot returns a copy of all recorded metrics in append order.
func (r *Recorder) Snapshot() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Request, len(r.requests))
	copy(out, r.requests)
	return out
}

// Len returns the number of recorded metrics.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Aggregate summarises everything recorded so far.
func (r *Recorder) Aggregate() Aggregate {
	return Aggregated(r.Snapshot())
}

// Clear discards all recorded metrics.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}
