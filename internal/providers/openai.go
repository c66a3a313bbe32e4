package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/rlm/pkg/models"
)

// OpenAIAdapter implements Adapter on the OpenAI chat completions API.
type OpenAIAdapter struct {
	client *openai.Client
}

// NewOpenAIAdapter builds an adapter for the given API key.
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{client: openai.NewClient(apiKey)}
}

// Complete performs one non-streaming call.
func (o *OpenAIAdapter) Complete(ctx context.Context, model string, req *Request) (*Response, error) {
	chatReq := o.buildRequest(model, req, false)
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, &AdapterError{Kind: Classify(err), Provider: "openai", Model: model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return &Response{Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}}, nil
	}
	out := convertOpenAIMessage(resp.Choices[0].Message)
	out.Usage = models.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	return out, nil
}

// Stream performs a streaming call, accumulating deltas into the final
// response.
func (o *OpenAIAdapter) Stream(ctx context.Context, model string, req *Request) (*Response, error) {
	chatReq := o.buildRequest(model, req, true)
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := o.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, &AdapterError{Kind: Classify(err), Provider: "openai", Model: model, Err: err}
	}
	defer stream.Close()

	var text string
	toolCalls := map[int]*models.ToolCall{}
	toolArgs := map[int]string{}
	var usage models.Usage
	maxIdx := -1

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &AdapterError{Kind: Classify(err), Provider: "openai", Model: model, Err: err}
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		text += delta.Content
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if idx > maxIdx {
				maxIdx = idx
			}
			call, ok := toolCalls[idx]
			if !ok {
				call = &models.ToolCall{}
				toolCalls[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			toolArgs[idx] += tc.Function.Arguments
		}
	}

	resp := &Response{Usage: usage}
	if text != "" {
		resp.Content = append(resp.Content, models.ContentBlock{Type: models.BlockText, Text: text})
	}
	for i := 0; i <= maxIdx; i++ {
		call, ok := toolCalls[i]
		if !ok {
			continue
		}
		resp.Content = append(resp.Content, models.ContentBlock{
			Type:  models.BlockToolUse,
			ID:    call.ID,
			Name:  call.Name,
			Input: json.RawMessage(toolArgs[i]),
		})
	}
	return resp, nil
}

func (o *OpenAIAdapter) buildRequest(model string, req *Request, stream bool) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertMessagesToOpenAI(req.Messages, req.SystemPrompt),
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return chatReq
}

// convertMessagesToOpenAI flattens host messages onto the chat completions
// shape: tool_use blocks become assistant tool calls, tool results become
// role=tool messages.
func convertMessagesToOpenAI(msgs []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content.JoinedText(),
			})
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: m.ToolCallID,
				Content:    m.Content.JoinedText(),
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content.JoinedText(),
			}
			for _, b := range m.Content.ToolUseBlocks() {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   b.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			}
			result = append(result, oaiMsg)
			// Tool results embedded as blocks follow the assistant message.
			if m.Content.IsBlocks() {
				for _, b := range m.Content.Blocks {
					if b.Type == models.BlockToolResult {
						result = append(result, openai.ChatCompletionMessage{
							Role:       openai.ChatMessageRoleTool,
							ToolCallID: b.ToolUseID,
							Content:    b.Content,
						})
					}
				}
			}
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content.JoinedText(),
			})
		}
	}
	return result
}

func convertOpenAIMessage(msg openai.ChatCompletionMessage) *Response {
	resp := &Response{}
	if msg.Content != "" {
		resp.Content = append(resp.Content, models.ContentBlock{Type: models.BlockText, Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		resp.Content = append(resp.Content, models.ContentBlock{
			Type:  models.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp
}
