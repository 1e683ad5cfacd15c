package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/store"
)

type getResultsArgs struct {
	EvaluationID string `json:"evaluationId" jsonschema:"required,description=ID returned by run_evaluation"`
}

// GetEvaluationResultsTool fetches stored evaluation results back.
type GetEvaluationResultsTool struct {
	store  store.Store
	schema map[string]any
}

// NewGetEvaluationResultsTool builds the tool. A nil store is allowed; the
// tool then reports that persistence is not configured.
func NewGetEvaluationResultsTool(st store.Store) *GetEvaluationResultsTool {
	return &GetEvaluationResultsTool{
		store:  st,
		schema: mustSchema[getResultsArgs](),
	}
}

func (t *GetEvaluationResultsTool) GetName() string { return "get_evaluation_results" }

func (t *GetEvaluationResultsTool) GetDescription() string {
	return "Fetch the stored results of a finished evaluation"
}

func (t *GetEvaluationResultsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  parameterList(t.schema),
		InputSchema: t.schema,
	}
}

func (t *GetEvaluationResultsTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	if err := validateArgs(t.GetName(), t.schema, args); err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	var parsed getResultsArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	if t.store == nil {
		err := fmt.Errorf("results persistence is not configured; run_evaluation responses carry the summary inline")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	results, err := t.store.GetResult(ctx, parsed.EvaluationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("no results stored under evaluation id '%s'", parsed.EvaluationID)
		}
		return errorResult(t.GetName(), err.Error(), start), err
	}

	content := fmt.Sprintf("Evaluation %s: %d/%d simulations succeeded (%.1f%%).",
		parsed.EvaluationID, results.SuccessCount(), len(results.Simulations),
		results.SuccessRate()*100)

	return successResult(t.GetName(), content, results, start), nil
}

var _ Tool = (*GetEvaluationResultsTool)(nil)
