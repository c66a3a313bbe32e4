package rlmtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/rlm/internal/host"
)

// statsParams is empty; rlm_stats takes no arguments.
type statsParams struct{}

// StatsTool summarizes the store and engine state.
type StatsTool struct {
	deps   *Deps
	schema json.RawMessage
}

// NewStatsTool builds the tool.
func NewStatsTool(d *Deps) *StatsTool {
	return &StatsTool{deps: d, schema: schemaFor(&statsParams{})}
}

func (t *StatsTool) Name() string  { return "rlm_stats" }
func (t *StatsTool) Label() string { return "Stats" }
func (t *StatsTool) Description() string {
	return "Summarize the external store, context usage, and active recursive activity."
}
func (t *StatsTool) Schema() json.RawMessage { return t.schema }

func (t *StatsTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate func(string), hctx host.Context) (*host.ToolResult, error) {
	return run(t.deps, t.Name(), func() (*host.ToolResult, error) {
		var b strings.Builder
		fmt.Fprintf(&b, "Store: %d objects, %d tokens, %d bytes on disk.\n",
			t.deps.Store.RecordCount(), t.deps.Store.TotalTokens(), t.deps.Store.StoreBytes())

		usage := hctx.ContextUsage()
		if usage.Tokens != nil && usage.ContextWindow > 0 {
			fmt.Fprintf(&b, "Context: %d of %d tokens (%.0f%%).\n",
				*usage.Tokens, usage.ContextWindow, 100*float64(*usage.Tokens)/float64(usage.ContextWindow))
		} else {
			b.WriteString("Context: usage not reported by host.\n")
		}

		active := t.deps.Tree.GetActive()
		fmt.Fprintf(&b, "Child calls: %d active, max depth %d.\n", len(active), t.deps.Tree.MaxActiveDepth())
		if op := t.deps.Tree.GetActiveOperation(); op != nil {
			fmt.Fprintf(&b, "Active operation: %s (%d child calls, est $%.4f, actual $%.4f).\n",
				op.ID, op.ChildCalls, op.EstimatedCost, op.ActualCost)
		}
		fmt.Fprintf(&b, "Warm objects: %d.\n", t.deps.Warm.WarmObjectCount())
		return host.TextResult(b.String()), nil
	})
}
