// Package store persists finished evaluation results under their
// evaluation IDs so they can be fetched back later through the
// get_evaluation_results tool. Results are held serialised; readers always
// get their own copy.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/runner"
)

// ErrNotFound is returned when no results exist under an evaluation ID.
var ErrNotFound = errors.New("evaluation results not found")

// Summary is the listing row for one stored evaluation.
type Summary struct {
	EvaluationID string    `json:"evaluation_id"`
	Domain       string    `json:"domain"`
	Simulations  int       `json:"simulations"`
	Successes    int       `json:"successes"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store persists evaluation results. Saving under an existing ID replaces
// the stored results.
type Store interface {
	SaveResult(ctx context.Context, evaluationID string, results *runner.Results) error
	GetResult(ctx context.Context, evaluationID string) (*runner.Results, error)
	ListResults(ctx context.Context) ([]Summary, error)
	Close() error
}

func summarise(evaluationID string, results *runner.Results, savedAt time.Time) Summary {
	return Summary{
		EvaluationID: evaluationID,
		Domain:       results.Info.Domain,
		Simulations:  len(results.Simulations),
		Successes:    results.SuccessCount(),
		SavedAt:      savedAt,
	}
}

func encodeResults(evaluationID string, results *runner.Results) ([]byte, error) {
	if evaluationID == "" {
		return nil, fmt.Errorf("evaluation id is required")
	}
	if results == nil {
		return nil, fmt.Errorf("results are required")
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	return data, nil
}

func decodeResults(data []byte) (*runner.Results, error) {
	var results runner.Results
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results: %w", err)
	}
	return &results, nil
}

// MemoryStore is the in-memory Store implementation, the default backend
// when no SQL store is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	data    []byte
	summary Summary
}

// NewMemoryStore returns an empty in-memory results store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) SaveResult(_ context.Context, evaluationID string, results *runner.Results) error {
	data, err := encodeResults(evaluationID, results)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[evaluationID] = memoryRecord{
		data:    data,
		summary: summarise(evaluationID, results, time.Now().UTC()),
	}
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, evaluationID string) (*runner.Results, error) {
	s.mu.RLock()
	rec, ok := s.records[evaluationID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeResults(rec.data)
}

func (s *MemoryStore) ListResults(context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]Summary, 0, len(s.records))
	for _, rec := range s.records {
		summaries = append(summaries, rec.summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SavedAt.After(summaries[j].SavedAt)
	})
	return summaries, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
