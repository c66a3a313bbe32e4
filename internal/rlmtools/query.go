package rlmtools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/rlm/internal/calltree"
	"github.com/haasonsaas/rlm/internal/engine"
	"github.com/haasonsaas/rlm/internal/host"
	"github.com/haasonsaas/rlm/pkg/models"
)

// queryParams are the rlm_query arguments. Target is either a bare object
// id or an array of ids, so it stays schemaless here and is shape-checked by
// engine.ParseTargets.
type queryParams struct {
	Instructions string `json:"instructions" jsonschema:"description=What the child call should determine"`
	Target       any    `json:"target" jsonschema:"description=Object id or array of object ids"`
	Model        string `json:"model,omitempty" jsonschema:"description=Optional model override"`
}

// QueryTool runs one focused child model call over joined targets.
type QueryTool struct {
	deps   *Deps
	schema json.RawMessage
}

// NewQueryTool builds the tool.
func NewQueryTool(d *Deps) *QueryTool {
	return &QueryTool{deps: d, schema: schemaFor(&queryParams{})}
}

func (t *QueryTool) Name() string  { return "rlm_query" }
func (t *QueryTool) Label() string { return "Query" }
func (t *QueryTool) Description() string {
	return "Run a focused child model call over one or more externalized objects and return a structured answer."
}
func (t *QueryTool) Schema() json.RawMessage { return t.schema }

func (t *QueryTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate func(string), hctx host.Context) (*host.ToolResult, error) {
	return run(t.deps, t.Name(), func() (*host.ToolResult, error) {
		if err := validateParams(t.schema, params); err != nil {
			return nil, err
		}
		var p queryParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		rawTarget, err := json.Marshal(p.Target)
		if err != nil {
			return nil, err
		}
		targets, err := engine.ParseTargets(rawTarget)
		if err != nil {
			return nil, err
		}

		estimate := t.deps.Estimator.EstimateQuery(t.targetTokens(targets), 1, childModel(t.deps, p.Model, hctx))
		op, stop := startOperation(t.deps, estimate.Total())
		defer stop()

		t.deps.emit("rlm:query:start", map[string]any{
			"operationId":   op.ID,
			"targets":       targets,
			"estimatedCost": estimate.Total(),
		})

		result := t.deps.Engine.Query(ctx, engine.CallSpec{
			Instructions:  p.Instructions,
			TargetIDs:     targets,
			Depth:         1,
			OperationID:   op.ID,
			OpToken:       op.Token,
			ModelOverride: p.Model,
		}, hctx)

		actual := t.deps.Tree.GetOperationActual(op.ID)
		t.deps.Tree.CompleteOperation(op.ID)
		t.deps.Warm.MarkToolCallWarm(toolCallID)
		t.deps.emit("rlm:query:end", map[string]any{"operationId": op.ID, "actualCost": actual})

		return resultText(result), nil
	})
}

// targetTokens pulls index token estimates for cost prediction; unknown ids
// count zero.
func (t *QueryTool) targetTokens(ids []string) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		if entry, ok := t.deps.Store.GetIndexEntry(id); ok {
			out[i] = entry.TokenEstimate
		}
	}
	return out
}

// childModel resolves the model name used for cost estimation only.
func childModel(d *Deps, override string, hctx host.Context) string {
	if override != "" {
		return override
	}
	if d.Cfg.ChildModel != "" {
		return d.Cfg.ChildModel
	}
	return hctx.ModelID()
}

// startOperation registers an operation and arms the operation-level
// timeout. The stop function disarms the timer.
func startOperation(d *Deps, estimatedCost float64) (*calltree.Operation, func()) {
	op := d.Tree.RegisterOperation(estimatedCost)
	timer := time.AfterFunc(time.Duration(d.Cfg.OperationTimeoutSec)*time.Second, func() {
		op.Token.Abort(calltree.AbortReasonTimeout)
	})
	return op, func() { timer.Stop() }
}

// resultText renders one child result for the host.
func resultText(r models.ChildResult) *host.ToolResult {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return host.ErrorResult(fmt.Sprintf("failed to render result: %v", err))
	}
	res := host.TextResult(string(data))
	res.Details = map[string]any{"confidence": string(r.Confidence)}
	return res
}
