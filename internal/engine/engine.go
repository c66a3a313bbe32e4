// Package engine drives child model calls: the per-call lifecycle, the child
// agent loop, cancellation, cost accounting, rate-limit retries, and the
// parallel batch path. Tool handlers register an operation on the call tree
// and hand the engine its cancellation token; everything below that — child
// tokens, timers, retries, recursive sub-queries — is the engine's job.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/rlm/internal/backoff"
	"github.com/haasonsaas/rlm/internal/calltree"
	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/cost"
	"github.com/haasonsaas/rlm/internal/limiter"
	"github.com/haasonsaas/rlm/internal/observability"
	"github.com/haasonsaas/rlm/internal/providers"
	"github.com/haasonsaas/rlm/internal/store"
	"github.com/haasonsaas/rlm/internal/warmth"
	"github.com/haasonsaas/rlm/pkg/models"
)

const (
	// DefaultMaxTurns bounds one child agent loop.
	DefaultMaxTurns = 5
	// MaxRateLimitAttempts is the total tries for a rate-limited call.
	MaxRateLimitAttempts = 3
	// TargetSeparator joins target record contents in the child's user
	// message.
	TargetSeparator = "\n---\n"
)

// Trajectory receives operational log records; the trajectory writer
// satisfies it.
type Trajectory interface {
	Append(kind string, data any)
}

// ModelResolver supplies the host's resolved model and registry membership.
// host.Context satisfies it.
type ModelResolver interface {
	ModelID() string
	HasModel(id string) bool
}

// Engine is the session's recursive query machinery.
type Engine struct {
	store     *store.Store
	warm      *warmth.Tracker
	tree      *calltree.Tree
	cfg       *config.Config
	estimator *cost.Estimator
	adapter   providers.Adapter

	traj    Trajectory              // optional
	metrics *observability.Metrics  // optional
	retry   backoff.Policy
	tracer  trace.Tracer
}

// New wires an engine over the session-owned collaborators.
func New(st *store.Store, warm *warmth.Tracker, tree *calltree.Tree, cfg *config.Config, est *cost.Estimator, adapter providers.Adapter) *Engine {
	return &Engine{
		store:     st,
		warm:      warm,
		tree:      tree,
		cfg:       cfg,
		estimator: est,
		adapter:   adapter,
		retry:     backoff.RateLimitPolicy(),
		tracer:    otel.Tracer("rlm/engine"),
	}
}

// SetTrajectory installs the operational logger.
func (e *Engine) SetTrajectory(t Trajectory) { e.traj = t }

// SetMetrics installs the metric set.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.metrics = m }

// CallSpec describes one child call.
type CallSpec struct {
	Instructions  string
	TargetIDs     []string
	ParentCallID  string
	Depth         int
	OperationID   string
	OpToken       *calltree.Token
	ModelOverride string
}

// Query runs one child call over the joined targets. It never returns an
// error: every failure mode becomes a structured low-confidence result.
func (e *Engine) Query(ctx context.Context, spec CallSpec, resolver ModelResolver) models.ChildResult {
	if spec.Depth > e.cfg.MaxDepth {
		return errorResult(fmt.Sprintf("max recursion depth %d exceeded", e.cfg.MaxDepth))
	}
	if !e.tree.IncrementChildCalls(spec.OperationID) {
		return errorResult(fmt.Sprintf("child call budget (%d) exhausted for this operation", e.cfg.MaxChildCalls))
	}

	model := e.resolveModel(spec.ModelOverride, resolver)
	callID := "call-" + uuid.NewString()
	node := &calltree.CallNode{
		ID:           callID,
		ParentID:     spec.ParentCallID,
		OperationID:  spec.OperationID,
		Depth:        spec.Depth,
		Model:        model,
		Instructions: spec.Instructions,
		Status:       calltree.StatusRunning,
		StartedAt:    time.Now(),
	}
	e.tree.RegisterCall(node)

	if model == "" {
		e.finishCall(callID, model, spec, calltree.StatusError, time.Now(), models.Usage{})
		return errorResult("no model available for child call")
	}

	ctx, span := e.tracer.Start(ctx, "rlm.child_call", trace.WithAttributes(
		attribute.String("rlm.operation_id", spec.OperationID),
		attribute.Int("rlm.depth", spec.Depth),
		attribute.String("rlm.model", model),
		attribute.Int("rlm.targets", len(spec.TargetIDs)),
	))
	defer span.End()

	system := buildSystemPrompt(spec.Instructions, spec.Depth, e.cfg.MaxDepth)
	messages := []models.Message{{
		Role:    models.RoleUser,
		Content: models.TextContent(e.joinTargets(spec.TargetIDs)),
	}}
	schemas, handlers := e.buildChildTools(spec, callID, resolver)

	started := time.Now()
	var usage models.Usage
	var result models.ChildResult

	for attempt := 1; ; attempt++ {
		childToken, release := calltree.ComposeWithTimeout(spec.OpToken, time.Duration(e.cfg.ChildTimeoutSec)*time.Second)
		out := e.runChildLoop(ctx, childLoopInput{
			model:    model,
			system:   system,
			messages: messages,
			schemas:  schemas,
			handlers: handlers,
			maxTurns: DefaultMaxTurns,
			token:    childToken,
		})
		release()
		usage.InputTokens += out.usage.InputTokens
		usage.OutputTokens += out.usage.OutputTokens

		switch {
		case out.aborted:
			status := calltree.StatusTimeout
			reason := "child call timed out"
			if spec.OpToken.Aborted() {
				status = calltree.StatusCancelled
				reason = "operation cancelled"
			}
			e.finishCall(callID, model, spec, status, started, usage)
			return errorResult(reason)

		case out.err != nil && providers.IsRateLimit(out.err) && attempt < MaxRateLimitAttempts:
			slog.Warn("engine: rate limited, retrying child call",
				"call", callID, "attempt", attempt, "error", out.err)
			if e.metrics != nil {
				e.metrics.ChildRetries.Inc()
			}
			if err := e.retry.Sleep(ctx, attempt); err != nil {
				e.finishCall(callID, model, spec, calltree.StatusCancelled, started, usage)
				return errorResult("operation cancelled")
			}
			continue

		case out.err != nil:
			slog.Warn("engine: child call failed", "call", callID, "error", out.err)
			e.finishCall(callID, model, spec, calltree.StatusError, started, usage)
			return errorResult(fmt.Sprintf("child call failed: %v", out.err))
		}

		result = models.ParseChildResult(out.text)
		break
	}

	e.finishCall(callID, model, spec, calltree.StatusSuccess, started, usage)
	return result
}

// finishCall records terminal state: node status, duration and tokens,
// actual cost, warmth of the targets, and a trajectory record.
func (e *Engine) finishCall(callID, model string, spec CallSpec, status calltree.Status, started time.Time, usage models.Usage) {
	duration := time.Since(started)
	st := status
	e.tree.UpdateCall(callID, calltree.CallUpdate{
		Status:       &st,
		Duration:     &duration,
		InputTokens:  &usage.InputTokens,
		OutputTokens: &usage.OutputTokens,
	})

	e.tree.AddActualCost(spec.OperationID, e.estimator.AddCallCost(usage.InputTokens, usage.OutputTokens, model))
	e.warm.MarkWarm(spec.TargetIDs...)

	if e.metrics != nil {
		e.metrics.ChildCalls.WithLabelValues(string(status)).Inc()
	}
	if e.traj != nil {
		e.traj.Append("child_call", map[string]any{
			"call_id":       callID,
			"operation_id":  spec.OperationID,
			"depth":         spec.Depth,
			"status":        status,
			"duration_ms":   duration.Milliseconds(),
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"targets":       spec.TargetIDs,
		})
	}
}

// resolveModel applies override → configured child model → host model,
// warning when a named override is missing from the registry.
func (e *Engine) resolveModel(override string, resolver ModelResolver) string {
	for _, candidate := range []string{override, e.cfg.ChildModel} {
		if candidate == "" {
			continue
		}
		if resolver.HasModel(candidate) {
			return candidate
		}
		slog.Warn("engine: model not in registry, falling back", "model", candidate)
	}
	return resolver.ModelID()
}

// joinTargets concatenates the targeted records' contents.
func (e *Engine) joinTargets(ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		rec, ok := e.store.Get(id)
		if !ok {
			parts = append(parts, fmt.Sprintf("[Object %s not found]", id))
			continue
		}
		parts = append(parts, rec.Content)
	}
	return strings.Join(parts, TargetSeparator)
}

// BatchSpec describes a parallel child call per target.
type BatchSpec struct {
	Instructions  string
	TargetIDs     []string
	ParentCallID  string
	Depth         int
	OperationID   string
	OpToken       *calltree.Token
	ModelOverride string
}

// Batch fans one query per target through the concurrency limiter,
// preserving target order in the result list. Per-task failures surface as
// structured results, never as errors.
func (e *Engine) Batch(ctx context.Context, spec BatchSpec, resolver ModelResolver) []models.ChildResult {
	results, err := limiter.Map(ctx, spec.TargetIDs, e.cfg.MaxConcurrency,
		func(ctx context.Context, targetID string, _ int) (models.ChildResult, error) {
			if spec.OpToken.Aborted() {
				return errorResult("operation cancelled"), nil
			}
			return e.Query(ctx, CallSpec{
				Instructions:  spec.Instructions,
				TargetIDs:     []string{targetID},
				ParentCallID:  spec.ParentCallID,
				Depth:         spec.Depth,
				OperationID:   spec.OperationID,
				OpToken:       spec.OpToken,
				ModelOverride: spec.ModelOverride,
			}, resolver), nil
		})
	if err != nil {
		// Only context cancellation reaches here; fill the shape.
		out := make([]models.ChildResult, len(spec.TargetIDs))
		for i := range out {
			out[i] = errorResult("operation cancelled")
		}
		return out
	}
	return results
}

// errorResult wraps a failure message as a low-confidence child result.
func errorResult(msg string) models.ChildResult {
	return models.ChildResult{Answer: msg, Confidence: models.ConfidenceLow, Evidence: []string{}}
}
