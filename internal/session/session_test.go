package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/rlm/internal/host"
	"github.com/haasonsaas/rlm/internal/providers"
	"github.com/haasonsaas/rlm/pkg/models"
)

// mockRuntime records registrations and lets tests fire events.
type mockRuntime struct {
	handlers map[host.Event]func(ctx context.Context, hctx host.Context, payload any) any
	tools    map[string]host.Tool
	commands map[string]host.CommandHandler
	bus      *host.MockBus
}

func newMockRuntime() *mockRuntime {
	return &mockRuntime{
		handlers: make(map[host.Event]func(ctx context.Context, hctx host.Context, payload any) any),
		tools:    make(map[string]host.Tool),
		commands: make(map[string]host.CommandHandler),
		bus:      &host.MockBus{},
	}
}

func (m *mockRuntime) On(event host.Event, handler func(ctx context.Context, hctx host.Context, payload any) any) {
	m.handlers[event] = handler
}
func (m *mockRuntime) RegisterTool(tool host.Tool)                          { m.tools[tool.Name()] = tool }
func (m *mockRuntime) RegisterCommand(name string, h host.CommandHandler)   { m.commands[name] = h }
func (m *mockRuntime) Events() host.EventBus                                { return m.bus }

// echoAdapter satisfies providers.Adapter for sessions that never issue
// child calls in these tests.
type echoAdapter struct{}

func (echoAdapter) Complete(ctx context.Context, model string, req *providers.Request) (*providers.Response, error) {
	return &providers.Response{
		Content: []models.ContentBlock{{Type: models.BlockText, Text: `{"answer":"ok","confidence":"high","evidence":[]}`}},
		Usage:   models.Usage{InputTokens: 5, OutputTokens: 5},
	}, nil
}
func (e echoAdapter) Stream(ctx context.Context, model string, req *providers.Request) (*providers.Response, error) {
	return e.Complete(ctx, model, req)
}

func newSession(t *testing.T) (*Session, *mockRuntime, *host.MockContext) {
	t.Helper()
	hctx := &host.MockContext{
		Dir:     t.TempDir(),
		Session: "sess-1",
		Model:   "claude-sonnet-4",
	}
	s := New(hctx, echoAdapter{})
	t.Cleanup(s.Shutdown)
	rt := newMockRuntime()
	s.Register(rt)
	return s, rt, hctx
}

func fireContext(rt *mockRuntime, hctx *host.MockContext, msgs []models.Message) []models.Message {
	event := &host.ContextEvent{Messages: msgs}
	rt.handlers[host.EventContext](context.Background(), hctx, event)
	return event.Messages
}

func TestRegisterInstallsSurface(t *testing.T) {
	_, rt, _ := newSession(t)

	for _, event := range []host.Event{
		host.EventSessionStart, host.EventBeforeAgentStart, host.EventContext,
		host.EventSessionBeforeCompact, host.EventSessionBeforeSwitch, host.EventSessionShutdown,
	} {
		if rt.handlers[event] == nil {
			t.Errorf("no handler registered for %s", event)
		}
	}
	for _, name := range []string{"rlm_peek", "rlm_search", "rlm_query", "rlm_batch", "rlm_ingest", "rlm_stats"} {
		if rt.tools[name] == nil {
			t.Errorf("tool %s not registered", name)
		}
	}
	if rt.commands["rlm"] == nil {
		t.Error("command rlm not registered")
	}
}

func TestContextEventExternalizesLongSession(t *testing.T) {
	s, rt, hctx := newSession(t)

	big := strings.Repeat("file content line\n", 2000)
	assistant := models.Message{
		Role: models.RoleAssistant,
		Content: models.BlockContent(
			models.ContentBlock{Type: models.BlockText, Text: "reading"},
			models.ContentBlock{Type: models.BlockToolUse, ID: "tc-1", Name: "read_file", Input: []byte(`{}`)},
		),
		Timestamp: 1000,
	}
	result := models.Message{Role: models.RoleTool, ToolCallID: "tc-1", Content: models.TextContent(big), Timestamp: 1001}
	msgs := []models.Message{
		{Role: models.RoleUser, Content: models.TextContent("read that file"), Timestamp: 1},
		assistant, result,
		{Role: models.RoleUser, Content: models.TextContent("summarize"), Timestamp: 2000},
		{Role: models.RoleAssistant, Content: models.TextContent("summary"), Timestamp: 3000},
	}

	tokens := 12000
	hctx.UsageTokens = &tokens
	hctx.Window = 10000

	out := fireContext(rt, hctx, msgs)

	if s.Store().RecordCount() == 0 {
		t.Fatal("long session externalized nothing")
	}
	if !strings.Contains(out[0].Content.JoinedText(), "Externalized context") {
		t.Error("manifest missing from first user message")
	}
	// Compaction stays cancelled: the overage was externalizable.
	decision := rt.handlers[host.EventSessionBeforeCompact](context.Background(), hctx, nil)
	if decision == nil {
		t.Error("compaction allowed although externalization succeeded")
	}
	// rlm:externalize emitted.
	found := false
	for _, name := range rt.bus.Emitted() {
		if name == "rlm:externalize" {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want rlm:externalize", rt.bus.Emitted())
	}
}

func TestCrossTurnRetrieval(t *testing.T) {
	s, rt, hctx := newSession(t)

	// Externalize a tool result holding an address.
	content := "server config\nlisten 127.0.0.1:8080\n" + strings.Repeat("padding\n", 5000)
	msgs := []models.Message{
		{Role: models.RoleUser, Content: models.TextContent("load config"), Timestamp: 1},
		{Role: models.RoleAssistant, Content: models.BlockContent(
			models.ContentBlock{Type: models.BlockText, Text: "loading"},
			models.ContentBlock{Type: models.BlockToolUse, ID: "tc-1", Name: "read_file", Input: []byte(`{}`)},
		), Timestamp: 2},
		{Role: models.RoleTool, ToolCallID: "tc-1", Content: models.TextContent(content), Timestamp: 3},
		{Role: models.RoleUser, Content: models.TextContent("thanks"), Timestamp: 4000},
		{Role: models.RoleAssistant, Content: models.TextContent("done"), Timestamp: 5000},
	}
	tokens := 11000
	hctx.UsageTokens = &tokens
	hctx.Window = 10000
	fireContext(rt, hctx, msgs)

	// The model later searches for the literal.
	tool := rt.tools["rlm_search"]
	res, err := tool.Execute(context.Background(), "tc-search", json.RawMessage(`{"pattern":"127.0.0.1"}`), nil, hctx)
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	var text string
	for _, b := range res.Content {
		text += b.Text
	}
	if !strings.Contains(text, "127.0.0.1") || !strings.Contains(text, "rlm-obj-") {
		t.Errorf("search result = %q, want match with object id", text)
	}
	_ = s
}

func TestNoConfabulationOnEmptySearch(t *testing.T) {
	_, rt, hctx := newSession(t)
	tool := rt.tools["rlm_search"]
	res, err := tool.Execute(context.Background(), "tc-1", json.RawMessage(`{"pattern":"/etc/shadow"}`), nil, hctx)
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	var text string
	for _, b := range res.Content {
		text += b.Text
	}
	if !strings.Contains(text, "No matches") {
		t.Errorf("empty search = %q, want honest miss", text)
	}
}

func TestCommandStatusAndStore(t *testing.T) {
	s, rt, hctx := newSession(t)
	cmd := rt.commands["rlm"]

	out, err := cmd(context.Background(), "", hctx)
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, "RLM enabled") {
		t.Errorf("status = %q", out)
	}

	if _, err := s.Store().Add(models.Record{Type: models.ContentFile, Description: "doc", TokenEstimate: 5, Content: "x"}); err != nil {
		t.Fatal(err)
	}
	out, err = cmd(context.Background(), "store", hctx)
	if err != nil {
		t.Fatalf("store error = %v", err)
	}
	if !strings.Contains(out, "doc") {
		t.Errorf("store listing = %q", out)
	}
}

func TestCommandConfig(t *testing.T) {
	s, rt, hctx := newSession(t)
	cmd := rt.commands["rlm"]

	// Show.
	out, err := cmd(context.Background(), "config", hctx)
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(out, "maxDepth") {
		t.Errorf("config show = %q", out)
	}

	// Set valid keys with side effects.
	if _, err := cmd(context.Background(), "config maxDepth=3 warmTurns=5", hctx); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	if s.Config().MaxDepth != 3 || s.Config().WarmTurns != 5 {
		t.Errorf("config = %+v, want maxDepth=3 warmTurns=5", s.Config())
	}
	// Persisted through the host.
	if len(hctx.Entries) == 0 || hctx.Entries[len(hctx.Entries)-1].Kind != ConfigEntryKind {
		t.Error("config not persisted via AppendEntry")
	}

	// Unknown key and wrong type are rejected.
	if _, err := cmd(context.Background(), "config nonsense=1", hctx); err == nil {
		t.Error("unknown key accepted")
	}
	if _, err := cmd(context.Background(), "config maxDepth=banana", hctx); err == nil {
		t.Error("wrong type accepted")
	}

	// childModel=default clears.
	if _, err := cmd(context.Background(), "config childModel=claude-haiku-3-5", hctx); err != nil {
		t.Fatal(err)
	}
	if _, err := cmd(context.Background(), "config childModel=default", hctx); err != nil {
		t.Fatal(err)
	}
	if s.Config().ChildModel != "" {
		t.Errorf("ChildModel = %q, want cleared", s.Config().ChildModel)
	}
}

func TestCommandOffOnAndCancel(t *testing.T) {
	s, rt, hctx := newSession(t)
	cmd := rt.commands["rlm"]

	op := s.Tree().RegisterOperation(0)

	if _, err := cmd(context.Background(), "off", hctx); err != nil {
		t.Fatalf("off error = %v", err)
	}
	if s.Enabled() {
		t.Error("session still enabled after /rlm off")
	}
	if !op.Token.Aborted() {
		t.Error("/rlm off did not abort operations")
	}
	// Store files preserved.
	if !s.Store().Healthy() {
		t.Error("store unhealthy after off")
	}

	// Tools answer with a disabled error result.
	res, _ := rt.tools["rlm_search"].Execute(context.Background(), "tc", json.RawMessage(`{"pattern":"x"}`), nil, hctx)
	if !res.IsError {
		t.Error("tool usable while disabled")
	}

	if _, err := cmd(context.Background(), "on", hctx); err != nil {
		t.Fatalf("on error = %v", err)
	}
	if !s.Enabled() {
		t.Error("session not enabled after /rlm on")
	}

	// Cancel aborts but keeps enablement (scenario: cancel mid-batch).
	op2 := s.Tree().RegisterOperation(0)
	if _, err := cmd(context.Background(), "cancel", hctx); err != nil {
		t.Fatalf("cancel error = %v", err)
	}
	if !op2.Token.Aborted() {
		t.Error("/rlm cancel did not abort")
	}
	if !s.Enabled() {
		t.Error("/rlm cancel disabled the session")
	}
	res, _ = rt.tools["rlm_search"].Execute(context.Background(), "tc", json.RawMessage(`{"pattern":"x"}`), nil, hctx)
	if res.IsError {
		t.Error("search broken after cancel")
	}
}

func TestCommandExternalizeArmsForcePass(t *testing.T) {
	s, rt, hctx := newSession(t)
	cmd := rt.commands["rlm"]

	if _, err := cmd(context.Background(), "externalize", hctx); err != nil {
		t.Fatalf("externalize error = %v", err)
	}

	// Small context, but the forced pass externalizes the old exchange.
	msgs := []models.Message{
		{Role: models.RoleUser, Content: models.TextContent("old question"), Timestamp: 1},
		{Role: models.RoleAssistant, Content: models.TextContent("old answer"), Timestamp: 2},
		{Role: models.RoleUser, Content: models.TextContent("new question"), Timestamp: 3000},
		{Role: models.RoleAssistant, Content: models.TextContent("new answer"), Timestamp: 4000},
	}
	tokens := 50
	hctx.UsageTokens = &tokens
	hctx.Window = 100000
	fireContext(rt, hctx, msgs)

	if s.Store().RecordCount() == 0 {
		t.Error("forced externalization stored nothing")
	}
}

func TestSessionResumeSameStore(t *testing.T) {
	hctx := &host.MockContext{Dir: t.TempDir(), Session: "sess-resume", Model: "m"}

	a := New(hctx, echoAdapter{})
	if _, err := a.Store().Add(models.Record{
		Type:        models.ContentFile,
		Description: "/etc/hosts",
		Source:      models.RecordSource{Kind: models.SourceIngested, Path: "/etc/hosts"},
		Content:     "127.0.0.1 localhost",
	}); err != nil {
		t.Fatal(err)
	}
	a.Shutdown()

	b := New(hctx, echoAdapter{})
	t.Cleanup(b.Shutdown)
	rt := newMockRuntime()
	b.Register(rt)

	res, err := rt.tools["rlm_search"].Execute(context.Background(), "tc", json.RawMessage(`{"pattern":"localhost"}`), nil, hctx)
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	var text string
	for _, blk := range res.Content {
		text += blk.Text
	}
	if !strings.Contains(text, "localhost") {
		t.Errorf("resumed search = %q, want hit from prior session", text)
	}
}

func TestRetentionPurge(t *testing.T) {
	hctx := &host.MockContext{Dir: t.TempDir(), Session: "sess-live", Model: "m"}
	base := filepath.Join(hctx.Dir, ".pi", "rlm")

	// An expired sibling session and a fresh one.
	oldDir := filepath.Join(base, "sess-old")
	freshDir := filepath.Join(base, "sess-fresh")
	os.MkdirAll(oldDir, 0o755)
	os.MkdirAll(freshDir, 0o755)
	oldTime := time.Now().AddDate(0, 0, -60)
	os.Chtimes(oldDir, oldTime, oldTime)

	s := New(hctx, echoAdapter{})
	t.Cleanup(s.Shutdown)
	rt := newMockRuntime()
	s.Register(rt)
	rt.handlers[host.EventSessionStart](context.Background(), hctx, nil)

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("expired session dir survived purge")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Error("fresh session dir was purged")
	}
}

func TestFirstRunMarker(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	hctx := &host.MockContext{Dir: t.TempDir(), Session: "sess-first", Model: "m"}
	s := New(hctx, echoAdapter{})
	t.Cleanup(s.Shutdown)
	rt := newMockRuntime()
	s.Register(rt)

	rt.handlers[host.EventSessionStart](context.Background(), hctx, nil)
	marker := filepath.Join(home, ".pi", "rlm", ".installed")
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("marker not written: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data))); err != nil {
		t.Errorf("marker content %q is not an ISO timestamp", data)
	}
	if len(hctx.Notifications) == 0 {
		t.Error("first run produced no notification")
	}

	// Second start: no further notification.
	before := len(hctx.Notifications)
	rt.handlers[host.EventSessionStart](context.Background(), hctx, nil)
	if len(hctx.Notifications) != before {
		t.Error("first-run notice repeated")
	}
}

func TestBeforeCompactLatchViaEvents(t *testing.T) {
	_, rt, hctx := newSession(t)

	// Default: cancel compaction.
	decision := rt.handlers[host.EventSessionBeforeCompact](context.Background(), hctx, nil)
	cd, ok := decision.(*models.CompactDecision)
	if !ok || !cd.Cancel {
		t.Fatalf("decision = %#v, want cancel", decision)
	}

	// Unexternalizable overage latches allow-compaction.
	huge := strings.Repeat("x", 200000)
	msgs := []models.Message{
		{Role: models.RoleUser, Content: models.TextContent(huge), Timestamp: 1},
		{Role: models.RoleAssistant, Content: models.TextContent("ok"), Timestamp: 2},
	}
	tokens := 60000
	hctx.UsageTokens = &tokens
	hctx.Window = 50000
	fireContext(rt, hctx, msgs)

	if got := rt.handlers[host.EventSessionBeforeCompact](context.Background(), hctx, nil); got != nil {
		t.Errorf("decision = %#v, want nil (allow once)", got)
	}
	if got := rt.handlers[host.EventSessionBeforeCompact](context.Background(), hctx, nil); got == nil {
		t.Error("latch not consumed after one allowance")
	}
}

func TestQueryToolEndToEnd(t *testing.T) {
	s, rt, hctx := newSession(t)
	rec, err := s.Store().Add(models.Record{
		Type: models.ContentFile, Description: "doc", TokenEstimate: 10,
		Content: "the flag value is 42",
	})
	if err != nil {
		t.Fatal(err)
	}

	params := fmt.Sprintf(`{"instructions":"find the flag","target":%q}`, rec.ID)
	res, err := rt.tools["rlm_query"].Execute(context.Background(), "tc-q", json.RawMessage(params), nil, hctx)
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	var text string
	for _, b := range res.Content {
		text += b.Text
	}
	if !strings.Contains(text, `"answer"`) {
		t.Errorf("query result = %q, want structured child result", text)
	}
}
