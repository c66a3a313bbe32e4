package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/rlm/internal/calltree"
	"github.com/haasonsaas/rlm/internal/providers"
	"github.com/haasonsaas/rlm/pkg/models"
)

// MaxTurnsFallback is returned when the loop exhausts its turns without a
// final text and the last assistant message carries none either.
const MaxTurnsFallback = "[child call reached max turns without a final answer]"

// childHandler executes one child tool call, returning the model-facing text
// and an error flag.
type childHandler func(ctx context.Context, input json.RawMessage) (string, bool)

// childLoopInput bundles the arguments of one agent loop run.
type childLoopInput struct {
	model    string
	system   string
	messages []models.Message
	schemas  []providers.ToolSchema
	handlers map[string]childHandler
	maxTurns int
	token    *calltree.Token
}

// childLoopOutput is the loop's terminal state.
type childLoopOutput struct {
	text    string
	usage   models.Usage
	aborted bool
	err     error
}

// runChildLoop drives the think→act→observe cycle of one child call. It
// prefers the non-streaming adapter and switches permanently to streaming
// when Complete reports itself unsupported. Unknown tool names produce
// isError tool results so the tool-call/tool-result contract holds.
func (e *Engine) runChildLoop(ctx context.Context, in childLoopInput) childLoopOutput {
	var out childLoopOutput
	if in.maxTurns <= 0 {
		in.maxTurns = DefaultMaxTurns
	}

	// Bridge the cancellation token into context so in-flight adapter calls
	// abort immediately.
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	removeAbort := in.token.OnAbort(func(string) { cancel() })
	defer removeAbort()

	messages := make([]models.Message, len(in.messages))
	copy(messages, in.messages)

	useStream := false
	var lastAssistantText string

	for turn := 0; turn < in.maxTurns; turn++ {
		if in.token.Aborted() {
			out.aborted = true
			return out
		}

		req := &providers.Request{
			SystemPrompt: in.system,
			Messages:     messages,
			Tools:        in.schemas,
			MaxTokens:    e.cfg.ChildMaxTokens,
		}

		var resp *providers.Response
		var err error
		if useStream {
			resp, err = e.adapter.Stream(cctx, in.model, req)
		} else {
			resp, err = e.adapter.Complete(cctx, in.model, req)
			if err != nil && providers.IsUnsupported(err) {
				useStream = true
				resp, err = e.adapter.Stream(cctx, in.model, req)
			}
		}
		if err != nil {
			if in.token.Aborted() {
				out.aborted = true
				return out
			}
			out.err = err
			return out
		}

		out.usage.InputTokens += resp.Usage.InputTokens
		out.usage.OutputTokens += resp.Usage.OutputTokens

		toolCalls := resp.ToolCalls()
		if len(toolCalls) == 0 {
			out.text = resp.Text()
			return out
		}
		if text := resp.Text(); text != "" {
			lastAssistantText = text
		}

		messages = append(messages, models.Message{
			Role:    models.RoleAssistant,
			Content: models.BlockContent(resp.Content...),
		})

		for _, tc := range toolCalls {
			text, isErr := e.dispatchChildTool(cctx, in.handlers, tc)
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				ToolCallID: tc.ID,
				Content:    models.TextContent(text),
				IsError:    isErr,
			})
		}
	}

	if lastAssistantText != "" {
		out.text = lastAssistantText
		return out
	}
	out.text = MaxTurnsFallback
	return out
}

// dispatchChildTool runs one tool call, listing the available tools on an
// unknown name.
func (e *Engine) dispatchChildTool(ctx context.Context, handlers map[string]childHandler, tc models.ToolCall) (string, bool) {
	handler, ok := handlers[tc.Name]
	if !ok {
		names := make([]string, 0, len(handlers))
		for name := range handlers {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Sprintf("unknown tool %q; available tools: %s", tc.Name, strings.Join(names, ", ")), true
	}
	return handler(ctx, tc.Input)
}
