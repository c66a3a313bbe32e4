// Package host declares the runtime contract the RLM core consumes: the
// extension surface of the conversational-agent host. Concrete hosts supply
// implementations; the core only depends on these interfaces, so everything
// here stays thin and mockable.
package host

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/rlm/pkg/models"
)

// Event names the extension lifecycle hooks the core subscribes to.
type Event string

const (
	EventSessionStart         Event = "session_start"
	EventBeforeAgentStart     Event = "before_agent_start"
	EventContext              Event = "context"
	EventSessionBeforeCompact Event = "session_before_compact"
	EventSessionBeforeSwitch  Event = "session_before_switch"
	EventSessionShutdown      Event = "session_shutdown"
)

// ContextUsage reports the host's current token accounting. Tokens is nil
// when the host cannot expose live usage.
type ContextUsage struct {
	Tokens        *int
	ContextWindow int
}

// NotifyLevel grades a user notification.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// Context is the extension context handed to every handler and tool.
type Context interface {
	// Cwd is the host's current working directory.
	Cwd() string

	// SessionID identifies the active session.
	SessionID() string

	// HasUI reports whether interactive UI affordances exist.
	HasUI() bool

	// ContextUsage returns live token usage, Tokens nil when unavailable.
	ContextUsage() ContextUsage

	// ModelID is the host's resolved model identifier.
	ModelID() string

	// HasModel reports whether a named model exists in the host registry.
	HasModel(id string) bool

	// Notify surfaces a message to the user; falls back to logging when no
	// UI is attached.
	Notify(level NotifyLevel, message string)

	// Confirm asks the user a yes/no question. Hosts without UI return
	// defaultAnswer.
	Confirm(ctx context.Context, prompt string, defaultAnswer bool) bool

	// AppendEntry persists a configuration entry onto the session.
	AppendEntry(kind string, data any) error
}

// EventBus is the inter-extension notification channel. Emission failures
// are logged by callers and never fatal.
type EventBus interface {
	Emit(name string, data any) error
}

// ContextEvent is the payload of EventContext.
type ContextEvent struct {
	Messages []models.Message
}

// ToolResultBlock is one block of a tool's reply to the host.
type ToolResultBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

// ToolResult is the host-facing outcome of a tool execution.
type ToolResult struct {
	Content []ToolResultBlock `json:"content"`
	IsError bool              `json:"isError,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

// TextResult builds a single-block text result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ToolResultBlock{{Type: "text", Text: text}}}
}

// ErrorResult builds a single-block error result.
func ErrorResult(text string) *ToolResult {
	r := TextResult(text)
	r.IsError = true
	return r
}

// Tool is a host-registrable tool.
type Tool interface {
	// Name is the function name exposed to the model.
	Name() string

	// Label is the short human-readable name for UI surfaces.
	Label() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is the JSON-schema of the parameters object.
	Schema() json.RawMessage

	// Execute runs the tool. Cancellation arrives through ctx; onUpdate
	// streams progress text when non-nil. Implementations return error
	// results rather than errors for expected failures.
	Execute(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate func(string), hctx Context) (*ToolResult, error)
}

// CommandHandler processes one slash-command invocation with raw arguments.
type CommandHandler func(ctx context.Context, args string, hctx Context) (string, error)

// Runtime is the registration surface of the host extension framework.
type Runtime interface {
	// On subscribes a handler to a lifecycle event.
	On(event Event, handler func(ctx context.Context, hctx Context, payload any) any)

	// RegisterTool makes a tool callable by the model.
	RegisterTool(tool Tool)

	// RegisterCommand installs a slash command by name (without the slash).
	RegisterCommand(name string, handler CommandHandler)

	// Events returns the inter-extension bus.
	Events() EventBus
}
