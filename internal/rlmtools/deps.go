// Package rlmtools implements the host-facing RLM tool surface: peek,
// search, query, batch, ingest, and stats. Each tool is a thin adapter over
// the session-owned store, warm tracker, call tree, and engine; all of them
// return error results rather than raising when the system is disabled or an
// internal failure occurs.
package rlmtools

import (
	"fmt"
	"log/slog"

	"github.com/haasonsaas/rlm/internal/calltree"
	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/cost"
	"github.com/haasonsaas/rlm/internal/engine"
	"github.com/haasonsaas/rlm/internal/host"
	"github.com/haasonsaas/rlm/internal/observability"
	"github.com/haasonsaas/rlm/internal/store"
	"github.com/haasonsaas/rlm/internal/warmth"
)

// Deps bundles the session collaborators the tools close over.
type Deps struct {
	Store     *store.Store
	Warm      *warmth.Tracker
	Tree      *calltree.Tree
	Engine    *engine.Engine
	Cfg       *config.Config
	Estimator *cost.Estimator
	Metrics   *observability.Metrics // optional
	Bus       host.EventBus          // optional
	Enabled   func() bool
}

// enabled defaults to on when no predicate is wired.
func (d *Deps) enabled() bool {
	if d.Enabled == nil {
		return true
	}
	return d.Enabled()
}

// emit publishes an inter-extension event; failures are logged, non-fatal.
func (d *Deps) emit(name string, data any) {
	if d.Bus == nil {
		return
	}
	if err := d.Bus.Emit(name, data); err != nil {
		slog.Warn("rlmtools: event emission failed", "event", name, "error", err)
	}
}

// All returns the full tool set for host registration.
func All(d *Deps) []host.Tool {
	return []host.Tool{
		NewPeekTool(d),
		NewSearchTool(d),
		NewQueryTool(d),
		NewBatchTool(d),
		NewIngestTool(d),
		NewStatsTool(d),
	}
}

// run wraps a tool body per the propagation policy: panics and errors become
// "RLM error in <name>: <msg>" error results, and a disabled system is
// reported instead of acted on.
func run(d *Deps, name string, fn func() (*host.ToolResult, error)) (result *host.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rlmtools: tool panicked", "tool", name, "panic", r)
			result = host.ErrorResult(fmt.Sprintf("RLM error in %s: %v", name, r))
			err = nil
		}
	}()
	if !d.enabled() {
		return host.ErrorResult("RLM is disabled; enable it with /rlm on"), nil
	}
	res, ferr := fn()
	if ferr != nil {
		return host.ErrorResult(fmt.Sprintf("RLM error in %s: %v", name, ferr)), nil
	}
	return res, nil
}
