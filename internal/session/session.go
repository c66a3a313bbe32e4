// Package session wires the RLM core into a host runtime. One Session owns
// exactly one store, call tree, warm tracker, token oracle, and externalizer
// state, registers the event handlers, tools, and the /rlm command, and
// carries the session's maintenance duties (retention purge, first-run
// notice, shutdown flush).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/haasonsaas/rlm/internal/calltree"
	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/cost"
	"github.com/haasonsaas/rlm/internal/engine"
	"github.com/haasonsaas/rlm/internal/externalizer"
	"github.com/haasonsaas/rlm/internal/host"
	"github.com/haasonsaas/rlm/internal/observability"
	"github.com/haasonsaas/rlm/internal/providers"
	"github.com/haasonsaas/rlm/internal/rlmtools"
	"github.com/haasonsaas/rlm/internal/store"
	"github.com/haasonsaas/rlm/internal/tokens"
	"github.com/haasonsaas/rlm/internal/trajectory"
	"github.com/haasonsaas/rlm/internal/warmth"
	"github.com/haasonsaas/rlm/internal/writeq"
)

// ConfigEntryKind is the host session-persistence kind for config snapshots.
const ConfigEntryKind = "rlm-config"

// Session is the per-session RLM state.
type Session struct {
	id  string
	cwd string
	cfg config.Config

	queue   *writeq.Queue
	store   *store.Store
	warm    *warmth.Tracker
	oracle  *tokens.Oracle
	tree    *calltree.Tree
	est     *cost.Estimator
	ext     *externalizer.Externalizer
	eng     *engine.Engine
	traj    *trajectory.Writer
	metrics *observability.Metrics
	bus     host.EventBus
}

// New builds a session over the host context and a model-call adapter. A
// store that fails to initialize leaves the session alive but disabled: the
// host falls back to its native behavior.
func New(hctx host.Context, adapter providers.Adapter) *Session {
	cwd := hctx.Cwd()
	dir := store.DirFor(cwd, hctx.SessionID())

	cfg, err := config.Load(filepath.Join(cwd, ".pi", "rlm"))
	if err != nil {
		slog.Warn("session: config file rejected, using defaults", "error", err)
		cfg = config.Default()
	}

	s := &Session{
		id:      hctx.SessionID(),
		cwd:     cwd,
		cfg:     cfg,
		queue:   writeq.New(),
		oracle:  tokens.NewOracle(),
		metrics: observability.New(),
	}
	s.store = store.New(dir, s.id, s.queue)
	s.warm = warmth.NewTracker(cfg.WarmTurns)
	s.tree = calltree.New(cfg.MaxChildCalls)
	s.est = cost.NewEstimator(nil, cfg.ChildMaxTokens)
	s.traj = trajectory.New(dir, s.queue)
	s.ext = externalizer.New(s.store, s.warm, s.oracle, &s.cfg)
	s.eng = engine.New(s.store, s.warm, s.tree, &s.cfg, s.est, adapter)
	s.eng.SetTrajectory(s.traj)
	s.eng.SetMetrics(s.metrics)

	if err := s.store.Initialize(); err != nil {
		slog.Error("session: store initialization failed, disabling RLM", "dir", dir, "error", err)
		s.ext.Disable()
		hctx.Notify(host.NotifyError, fmt.Sprintf("RLM store failed to initialize (%v); running disabled", err))
	} else if !cfg.Enabled {
		s.ext.Disable()
	}

	s.ext.OnExternalize(func(stats externalizer.ExternalizeStats) {
		s.metrics.RecordsExternalized.Add(float64(stats.Count))
		s.metrics.TokensSaved.Add(float64(stats.TokensSaved))
		s.traj.Append("externalize", stats)
		s.emit("rlm:externalize", stats)
	})

	return s
}

// Register subscribes the session to the host's lifecycle events, tools, and
// slash-command surface.
func (s *Session) Register(rt host.Runtime) {
	s.bus = rt.Events()

	rt.On(host.EventSessionStart, s.wrapHandler("session_start", func(ctx context.Context, hctx host.Context, payload any) any {
		s.startupMaintenance(hctx)
		s.emit("rlm:initialized", map[string]any{"sessionId": s.id, "records": s.store.RecordCount()})
		return nil
	}))

	rt.On(host.EventBeforeAgentStart, s.wrapHandler("before_agent_start", func(ctx context.Context, hctx host.Context, payload any) any {
		if s.ext.Disabled() || s.store.RecordCount() == 0 {
			return nil
		}
		// Appended to the system prompt by hosts that honor it.
		return "Earlier content may have been externalized to the RLM store; stubs in the " +
			"conversation name the object ids. Use rlm_peek, rlm_search, rlm_query, or rlm_batch " +
			"to retrieve or analyze it instead of guessing."
	}))

	rt.On(host.EventContext, s.wrapHandler("context", func(ctx context.Context, hctx host.Context, payload any) any {
		event, ok := payload.(*host.ContextEvent)
		if !ok || event == nil {
			return nil
		}
		usage := hctx.ContextUsage()
		event.Messages = s.ext.HandleContext(event.Messages, externalizer.Usage{
			Tokens:        usage.Tokens,
			ContextWindow: usage.ContextWindow,
		})
		s.metrics.StoreBytes.Set(float64(s.store.StoreBytes()))
		s.metrics.StoreRecords.Set(float64(s.store.RecordCount()))
		return event.Messages
	}))

	rt.On(host.EventSessionBeforeCompact, s.wrapHandler("session_before_compact", func(ctx context.Context, hctx host.Context, payload any) any {
		if s.ext.Disabled() {
			return nil
		}
		decision := s.ext.HandleBeforeCompact()
		if decision == nil {
			return nil
		}
		return decision
	}))

	rt.On(host.EventSessionBeforeSwitch, s.wrapHandler("session_before_switch", func(ctx context.Context, hctx host.Context, payload any) any {
		s.flush()
		return nil
	}))

	rt.On(host.EventSessionShutdown, s.wrapHandler("session_shutdown", func(ctx context.Context, hctx host.Context, payload any) any {
		s.Shutdown()
		return nil
	}))

	for _, tool := range rlmtools.All(s.toolDeps()) {
		rt.RegisterTool(tool)
	}
	rt.RegisterCommand("rlm", s.commandHandler())
}

// toolDeps bundles collaborators for the tool surface.
func (s *Session) toolDeps() *rlmtools.Deps {
	return &rlmtools.Deps{
		Store:     s.store,
		Warm:      s.warm,
		Tree:      s.tree,
		Engine:    s.eng,
		Cfg:       &s.cfg,
		Estimator: s.est,
		Metrics:   s.metrics,
		Bus:       busFunc(s.emit),
		Enabled:   func() bool { return s.Enabled() },
	}
}

// busFunc adapts the session's emit into a host.EventBus.
type busFunc func(name string, data any)

func (f busFunc) Emit(name string, data any) error {
	f(name, data)
	return nil
}

// wrapHandler applies the propagation policy: thrown values are logged and
// swallowed so the host uses its default behavior.
func (s *Session) wrapHandler(name string, fn func(ctx context.Context, hctx host.Context, payload any) any) func(ctx context.Context, hctx host.Context, payload any) any {
	return func(ctx context.Context, hctx host.Context, payload any) (result any) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("session: event handler panicked", "event", name, "panic", r)
				result = nil
			}
		}()
		return fn(ctx, hctx, payload)
	}
}

// Enabled reports whether the context machinery is live.
func (s *Session) Enabled() bool { return !s.ext.Disabled() }

// Store exposes the session store (inspector CLI, tests).
func (s *Session) Store() *store.Store { return s.store }

// Tree exposes the call tree.
func (s *Session) Tree() *calltree.Tree { return s.tree }

// Externalizer exposes the externalizer state machine.
func (s *Session) Externalizer() *externalizer.Externalizer { return s.ext }

// Metrics exposes the Prometheus registry holder.
func (s *Session) Metrics() *observability.Metrics { return s.metrics }

// Config returns a copy of the live configuration.
func (s *Session) Config() config.Config { return s.cfg }

// emit publishes an inter-extension event, logging failures.
func (s *Session) emit(name string, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Emit(name, data); err != nil {
		slog.Warn("session: event emission failed", "event", name, "error", err)
	}
}

// flush waits briefly for pending writes.
func (s *Session) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Flush(ctx); err != nil {
		slog.Warn("session: flush timed out", "error", err)
	}
}

// Shutdown flushes and stops the write queue.
func (s *Session) Shutdown() {
	s.flush()
	s.queue.Close()
}

// applyConfig applies one validated assignment plus its runtime side
// effects.
func (s *Session) applyConfig(key, value string) error {
	if err := s.cfg.Set(key, value); err != nil {
		return err
	}
	switch key {
	case "warmTurns":
		s.warm.SetWarmTurns(s.cfg.WarmTurns)
	case "maxChildCalls":
		s.tree.SetMaxChildCalls(s.cfg.MaxChildCalls)
	case "enabled":
		if s.cfg.Enabled {
			s.ext.Enable()
		} else {
			s.ext.Disable()
		}
	}
	return nil
}

// persistConfig snapshots the config onto the host session.
func (s *Session) persistConfig(hctx host.Context) {
	if err := hctx.AppendEntry(ConfigEntryKind, s.cfg); err != nil {
		slog.Warn("session: config persistence failed", "error", err)
	}
}
