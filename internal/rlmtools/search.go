package rlmtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/rlm/internal/host"
	"github.com/haasonsaas/rlm/internal/objects"
)

// searchParams are the rlm_search arguments. Scope is "all" (or absent) for
// every object, or an explicit id list; it stays schemaless and is
// shape-checked by parseScope.
type searchParams struct {
	Pattern string `json:"pattern" jsonschema:"description=Substring or /regex/flags pattern"`
	Scope   any    `json:"scope,omitempty" jsonschema:"description=Either all or an array of object ids"`
}

// SearchTool finds content across externalized objects.
type SearchTool struct {
	deps   *Deps
	schema json.RawMessage
}

// NewSearchTool builds the tool.
func NewSearchTool(d *Deps) *SearchTool {
	return &SearchTool{deps: d, schema: schemaFor(&searchParams{})}
}

func (t *SearchTool) Name() string  { return "rlm_search" }
func (t *SearchTool) Label() string { return "Search" }
func (t *SearchTool) Description() string {
	return "Search externalized objects for a substring or /regex/ pattern. Caps at 50 matches with surrounding context."
}
func (t *SearchTool) Schema() json.RawMessage { return t.schema }

func (t *SearchTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate func(string), hctx host.Context) (*host.ToolResult, error) {
	return run(t.deps, t.Name(), func() (*host.ToolResult, error) {
		if err := validateParams(t.schema, params); err != nil {
			return nil, err
		}
		var p searchParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		scope, err := parseScope(p.Scope)
		if err != nil {
			return nil, err
		}

		matches := objects.Search(t.deps.Store, t.deps.Warm, p.Pattern, scope)
		t.deps.Warm.MarkToolCallWarm(toolCallID)
		if t.deps.Metrics != nil {
			t.deps.Metrics.Searches.Inc()
		}
		t.deps.emit("rlm:search", map[string]any{"pattern": p.Pattern, "matches": len(matches)})

		return host.TextResult(objects.RenderMatches(p.Pattern, matches)), nil
	})
}

// parseScope accepts absent, "all", or an array of ids.
func parseScope(scope any) ([]string, error) {
	switch v := scope.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "all" || v == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("scope must be \"all\" or an array of object ids")
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			id, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("scope must be \"all\" or an array of object ids")
			}
			ids = append(ids, id)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("scope must be \"all\" or an array of object ids")
	}
}
