package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/rlm/internal/objects"
	"github.com/haasonsaas/rlm/internal/providers"
)

// Child tool names mirror the host-facing tool surface.
const (
	ChildToolPeek   = "rlm_peek"
	ChildToolSearch = "rlm_search"
	ChildToolQuery  = "rlm_query"
)

// buildChildTools assembles the tool set offered to a child call: peek and
// search over the shared store, plus recursive query while another level of
// depth remains. Handlers close over the session-owned store and warm
// tracker; the recursive handler re-enters the engine with depth+1.
func (e *Engine) buildChildTools(spec CallSpec, callID string, resolver ModelResolver) ([]providers.ToolSchema, map[string]childHandler) {
	schemas := []providers.ToolSchema{
		{
			Name:        ChildToolPeek,
			Description: "Read a window of an externalized object's content.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Object id (rlm-obj-…)"},
					"offset": {"type": "integer", "minimum": 0},
					"length": {"type": "integer", "minimum": 1}
				},
				"required": ["id"]
			}`),
		},
		{
			Name:        ChildToolSearch,
			Description: "Search externalized objects for a substring or /regex/.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {"type": "string"},
					"scope": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["pattern"]
			}`),
		},
	}

	handlers := map[string]childHandler{
		ChildToolPeek: func(_ context.Context, input json.RawMessage) (string, bool) {
			var params struct {
				ID     string `json:"id"`
				Offset int    `json:"offset"`
				Length int    `json:"length"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return fmt.Sprintf("invalid peek parameters: %v", err), true
			}
			p, err := objects.Peek(e.store, e.warm, params.ID, params.Offset, params.Length)
			if err != nil {
				return err.Error(), true
			}
			return p.Render(), false
		},
		ChildToolSearch: func(_ context.Context, input json.RawMessage) (string, bool) {
			var params struct {
				Pattern string   `json:"pattern"`
				Scope   []string `json:"scope"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return fmt.Sprintf("invalid search parameters: %v", err), true
			}
			matches := objects.Search(e.store, e.warm, params.Pattern, params.Scope)
			if e.metrics != nil {
				e.metrics.Searches.Inc()
			}
			return objects.RenderMatches(params.Pattern, matches), false
		},
	}

	if spec.Depth+1 < e.cfg.MaxDepth {
		schemas = append(schemas, providers.ToolSchema{
			Name:        ChildToolQuery,
			Description: "Spawn a deeper focused query over one or more objects.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"instructions": {"type": "string"},
					"target": {"oneOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]}
				},
				"required": ["instructions", "target"]
			}`),
		})
		handlers[ChildToolQuery] = func(ctx context.Context, input json.RawMessage) (string, bool) {
			var params struct {
				Instructions string          `json:"instructions"`
				Target       json.RawMessage `json:"target"`
			}
			if err := json.Unmarshal(input, &params); err != nil {
				return fmt.Sprintf("invalid query parameters: %v", err), true
			}
			targets, err := ParseTargets(params.Target)
			if err != nil {
				return err.Error(), true
			}
			result := e.Query(ctx, CallSpec{
				Instructions: params.Instructions,
				TargetIDs:    targets,
				ParentCallID: callID,
				Depth:        spec.Depth + 1,
				OperationID:  spec.OperationID,
				OpToken:      spec.OpToken,
			}, resolver)
			rendered, err := json.Marshal(result)
			if err != nil {
				return fmt.Sprintf("failed to render child result: %v", err), true
			}
			return string(rendered), false
		}
	}

	return schemas, handlers
}

// ParseTargets accepts a bare id string or an array of ids.
func ParseTargets(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, fmt.Errorf("target must not be empty")
		}
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("target must be a string or array of strings")
	}
	if len(many) == 0 {
		return nil, fmt.Errorf("target must not be empty")
	}
	return many, nil
}
