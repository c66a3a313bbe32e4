package rlmtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/rlm/internal/engine"
	"github.com/haasonsaas/rlm/internal/host"
)

// batchParams are the rlm_batch arguments.
type batchParams struct {
	Instructions string   `json:"instructions" jsonschema:"description=Applied to every target independently"`
	Targets      []string `json:"targets" jsonschema:"description=Object ids,minItems=1"`
	Model        string   `json:"model,omitempty" jsonschema:"description=Optional model override"`
}

// BatchTool fans one child call per target through the concurrency limiter.
type BatchTool struct {
	deps   *Deps
	schema json.RawMessage
}

// NewBatchTool builds the tool.
func NewBatchTool(d *Deps) *BatchTool {
	return &BatchTool{deps: d, schema: schemaFor(&batchParams{})}
}

func (t *BatchTool) Name() string  { return "rlm_batch" }
func (t *BatchTool) Label() string { return "Batch" }
func (t *BatchTool) Description() string {
	return "Run the same instructions as an independent child call per target object, in parallel, preserving target order."
}
func (t *BatchTool) Schema() json.RawMessage { return t.schema }

func (t *BatchTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate func(string), hctx host.Context) (*host.ToolResult, error) {
	return run(t.deps, t.Name(), func() (*host.ToolResult, error) {
		if err := validateParams(t.schema, params); err != nil {
			return nil, err
		}
		var p batchParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if len(p.Targets) == 0 {
			return nil, fmt.Errorf("targets must not be empty")
		}

		tokens := make([]int, len(p.Targets))
		for i, id := range p.Targets {
			if entry, ok := t.deps.Store.GetIndexEntry(id); ok {
				tokens[i] = entry.TokenEstimate
			}
		}
		estimate := t.deps.Estimator.EstimateBatch(tokens, 1, childModel(t.deps, p.Model, hctx))
		op, stop := startOperation(t.deps, estimate.Total())
		defer stop()

		t.deps.emit("rlm:batch:start", map[string]any{
			"operationId":   op.ID,
			"targets":       p.Targets,
			"estimatedCost": estimate.Total(),
		})

		results := t.deps.Engine.Batch(ctx, engine.BatchSpec{
			Instructions:  p.Instructions,
			TargetIDs:     p.Targets,
			Depth:         1,
			OperationID:   op.ID,
			OpToken:       op.Token,
			ModelOverride: p.Model,
		}, hctx)

		actual := t.deps.Tree.GetOperationActual(op.ID)
		t.deps.Tree.CompleteOperation(op.ID)
		t.deps.Warm.MarkToolCallWarm(toolCallID)
		t.deps.emit("rlm:batch:end", map[string]any{"operationId": op.ID, "actualCost": actual})

		// Render per-target results in target order.
		var b strings.Builder
		for i, r := range results {
			data, err := json.Marshal(r)
			if err != nil {
				data = []byte(fmt.Sprintf(`{"answer":"render error: %v","confidence":"low","evidence":[]}`, err))
			}
			fmt.Fprintf(&b, "%s: %s\n", p.Targets[i], data)
		}
		return host.TextResult(b.String()), nil
	})
}
