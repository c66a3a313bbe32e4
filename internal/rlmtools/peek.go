package rlmtools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/rlm/internal/host"
	"github.com/haasonsaas/rlm/internal/objects"
)

// peekParams are the rlm_peek arguments.
type peekParams struct {
	ID     string `json:"id" jsonschema:"description=Object id (rlm-obj-…)"`
	Offset int    `json:"offset,omitempty" jsonschema:"minimum=0,description=Start offset in characters"`
	Length int    `json:"length,omitempty" jsonschema:"minimum=1,description=Window length (default 2000)"`
}

// PeekTool returns a window of an externalized object's content.
type PeekTool struct {
	deps   *Deps
	schema json.RawMessage
}

// NewPeekTool builds the tool.
func NewPeekTool(d *Deps) *PeekTool {
	return &PeekTool{deps: d, schema: schemaFor(&peekParams{})}
}

func (t *PeekTool) Name() string  { return "rlm_peek" }
func (t *PeekTool) Label() string { return "Peek" }
func (t *PeekTool) Description() string {
	return "Read a window of an externalized object's content. Defaults to the first 2000 characters; follow the continuation hint for more."
}
func (t *PeekTool) Schema() json.RawMessage { return t.schema }

func (t *PeekTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate func(string), hctx host.Context) (*host.ToolResult, error) {
	return run(t.deps, t.Name(), func() (*host.ToolResult, error) {
		if err := validateParams(t.schema, params); err != nil {
			return nil, err
		}
		var p peekParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		window, err := objects.Peek(t.deps.Store, t.deps.Warm, p.ID, p.Offset, p.Length)
		if err != nil {
			return host.ErrorResult(err.Error()), nil
		}
		t.deps.Warm.MarkToolCallWarm(toolCallID)
		return host.TextResult(window.Render()), nil
	})
}
