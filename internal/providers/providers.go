// Package providers implements model-call adapters for the recursive engine.
//
// An adapter exposes two callables with the same result shape: Complete for a
// single round trip and Stream for providers that only support streaming. The
// engine prefers Complete and switches permanently to Stream for the rest of
// a child loop when Complete reports the operation as unsupported.
package providers

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/rlm/pkg/models"
)

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is the input to a model call.
type Request struct {
	SystemPrompt string
	Messages     []models.Message
	Tools        []ToolSchema
	MaxTokens    int
}

// Response is the adapter-normalized model output: text and tool_use blocks
// plus the usage report.
type Response struct {
	Content []models.ContentBlock
	Usage   models.Usage
}

// Text concatenates the response's text blocks.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type != models.BlockText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// ToolCalls extracts the requested tool invocations.
func (r *Response) ToolCalls() []models.ToolCall {
	var calls []models.ToolCall
	for _, b := range r.Content {
		if b.Type == models.BlockToolUse {
			calls = append(calls, models.ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return calls
}

// Adapter is the model-call contract the engine consumes.
type Adapter interface {
	// Complete performs one non-streaming model call.
	Complete(ctx context.Context, model string, req *Request) (*Response, error)

	// Stream performs a streaming call and resolves with the final
	// accumulated response.
	Stream(ctx context.Context, model string, req *Request) (*Response, error)
}
