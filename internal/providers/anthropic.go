package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/rlm/pkg/models"
)

// DefaultAnthropicMaxTokens caps completions when the request does not.
const DefaultAnthropicMaxTokens = 4096

// AnthropicAdapter implements Adapter on the Anthropic Messages API.
// Safe for concurrent use; each call is an independent request.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter builds an adapter. An empty apiKey defers to the
// SDK's environment-based configuration.
func NewAnthropicAdapter(apiKey string) *AnthropicAdapter {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...)}
}

// Complete performs one non-streaming call.
func (a *AnthropicAdapter) Complete(ctx context.Context, model string, req *Request) (*Response, error) {
	params, err := a.buildParams(model, req)
	if err != nil {
		return nil, err
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &AdapterError{Kind: Classify(err), Provider: "anthropic", Model: model, Err: err}
	}
	return convertAnthropicMessage(msg), nil
}

// Stream performs a streaming call and resolves with the accumulated final
// message.
func (a *AnthropicAdapter) Stream(ctx context.Context, model string, req *Request) (*Response, error) {
	params, err := a.buildParams(model, req)
	if err != nil {
		return nil, err
	}
	stream := a.client.Messages.NewStreaming(ctx, params)
	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, &AdapterError{Kind: KindOther, Provider: "anthropic", Model: model, Err: err}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &AdapterError{Kind: Classify(err), Provider: "anthropic", Model: model, Err: err}
	}
	return convertAnthropicMessage(&acc), nil
}

func (a *AnthropicAdapter) buildParams(model string, req *Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}

	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.SystemPrompt}}
	}
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: invalid schema for tool %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}
	return params, nil
}

// convertMessagesToAnthropic maps host messages onto Anthropic message
// params. System messages are excluded (carried in params.System); tool
// results become user messages per the Anthropic protocol.
func convertMessagesToAnthropic(msgs []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content.JoinedText(), m.IsError))
		} else if !m.Content.IsBlocks() {
			if m.Content.Text != "" {
				content = append(content, anthropic.NewTextBlock(m.Content.Text))
			}
		} else {
			for _, b := range m.Content.Blocks {
				switch b.Type {
				case models.BlockText:
					if b.Text != "" {
						content = append(content, anthropic.NewTextBlock(b.Text))
					}
				case models.BlockToolUse:
					var input map[string]any
					if err := json.Unmarshal(b.Input, &input); err != nil {
						return nil, fmt.Errorf("anthropic: invalid tool_use input for %s: %w", b.ID, err)
					}
					content = append(content, anthropic.NewToolUseBlock(b.ID, input, b.Name))
				case models.BlockToolResult:
					content = append(content, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
				case models.BlockImage:
					content = append(content, anthropic.NewImageBlockBase64(b.MimeType, b.Data))
				}
			}
		}
		if len(content) == 0 {
			continue
		}

		if m.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

// convertAnthropicMessage normalizes an SDK message into the adapter
// response shape.
func convertAnthropicMessage(msg *anthropic.Message) *Response {
	resp := &Response{
		Usage: models.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, models.ContentBlock{
				Type: models.BlockText,
				Text: variant.Text,
			})
		case anthropic.ToolUseBlock:
			resp.Content = append(resp.Content, models.ContentBlock{
				Type:  models.BlockToolUse,
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.Input),
			})
		}
	}
	return resp
}
