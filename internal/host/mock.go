package host

import (
	"context"
	"sync"
)

// MockContext is a test double for Context. Fields configure behavior;
// zero value is a headless host with no usage reporting.
type MockContext struct {
	Dir           string
	Session       string
	UI            bool
	UsageTokens   *int
	Window        int
	Model         string
	KnownModels   map[string]bool
	ConfirmAnswer bool

	mu            sync.Mutex
	Notifications []string
	Entries       []MockEntry
}

// MockEntry is one AppendEntry call.
type MockEntry struct {
	Kind string
	Data any
}

func (m *MockContext) Cwd() string       { return m.Dir }
func (m *MockContext) SessionID() string { return m.Session }
func (m *MockContext) HasUI() bool       { return m.UI }

func (m *MockContext) ContextUsage() ContextUsage {
	return ContextUsage{Tokens: m.UsageTokens, ContextWindow: m.Window}
}

func (m *MockContext) ModelID() string { return m.Model }

func (m *MockContext) HasModel(id string) bool {
	if m.KnownModels == nil {
		return id == m.Model && id != ""
	}
	return m.KnownModels[id]
}

func (m *MockContext) Notify(level NotifyLevel, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications = append(m.Notifications, string(level)+": "+message)
}

func (m *MockContext) Confirm(ctx context.Context, prompt string, defaultAnswer bool) bool {
	if !m.UI {
		return defaultAnswer
	}
	return m.ConfirmAnswer
}

func (m *MockContext) AppendEntry(kind string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, MockEntry{Kind: kind, Data: data})
	return nil
}

// MockBus records emitted events.
type MockBus struct {
	mu     sync.Mutex
	Events []MockEvent
	Err    error
}

// MockEvent is one Emit call.
type MockEvent struct {
	Name string
	Data any
}

func (b *MockBus) Emit(name string, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Events = append(b.Events, MockEvent{Name: name, Data: data})
	return b.Err
}

// Emitted returns the names of all emitted events.
func (b *MockBus) Emitted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.Events))
	for i, e := range b.Events {
		names[i] = e.Name
	}
	return names
}
