package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Export is the serialised form of a run's protocol metrics, embedded in
// evaluation results so protocol overhead can be compared against
// local-agent baselines.
type Export struct {
	TaskID     string     `json:"task_id,omitempty"`
	AgentType  string     `json:"agent_type"`
	Requests   []*Request `json:"protocol_metrics"`
	Summary    Aggregate  `json:"summary"`
	ExportedAt string     `json:"exported_at"`
}

// BuildExport assembles an export document from a recorder's current state.
func BuildExport(rec *Recorder, taskID, agentType string) Export {
	requests := rec.Snapshot()
	return Export{
		TaskID:     taskID,
		AgentType:  agentType,
		Requests:   requests,
		Summary:    Aggregated(requests),
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// WriteFile serialises the export as indented JSON at path.
func (e Export) WriteFile(path string) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics export: %w", err)
	}
	return nil
}
