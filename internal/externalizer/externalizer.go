// Package externalizer implements the per-turn state machine that keeps the
// host's working context under budget: it fingerprints messages, groups
// atomic tool-call/result pairs, relocates eligible content into the
// external store behind compact stubs, injects the store manifest, and — as
// a last resort — permits host-side compaction.
package externalizer

import (
	"log/slog"
	"sort"

	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/manifest"
	"github.com/haasonsaas/rlm/internal/store"
	"github.com/haasonsaas/rlm/internal/tokens"
	"github.com/haasonsaas/rlm/internal/warmth"
	"github.com/haasonsaas/rlm/pkg/models"
)

// ExternalizeStats summarizes one externalization pass for event emission.
type ExternalizeStats struct {
	ObjectIDs   []string `json:"objectIds"`
	Count       int      `json:"count"`
	TokensSaved int      `json:"tokensSaved"`
}

// Externalizer owns the context-event machinery for one session.
type Externalizer struct {
	store  *store.Store
	warm   *warmth.Tracker
	oracle *tokens.Oracle
	cfg    *config.Config

	turn            int
	forceNext       bool
	allowCompaction bool
	disabled        bool

	// onExternalize observes each completed pass (event emission,
	// trajectory logging); nil is fine.
	onExternalize func(ExternalizeStats)
}

// New wires an externalizer over the session-owned collaborators.
func New(st *store.Store, warm *warmth.Tracker, oracle *tokens.Oracle, cfg *config.Config) *Externalizer {
	return &Externalizer{store: st, warm: warm, oracle: oracle, cfg: cfg}
}

// OnExternalize installs the pass observer.
func (e *Externalizer) OnExternalize(fn func(ExternalizeStats)) { e.onExternalize = fn }

// Disable turns the externalizer off for the session (store init failure or
// /rlm off). Context events then pass through untouched.
func (e *Externalizer) Disable() { e.disabled = true }

// Enable re-arms a disabled externalizer.
func (e *Externalizer) Enable() { e.disabled = false }

// Disabled reports the current enablement.
func (e *Externalizer) Disabled() bool { return e.disabled }

// ForceNext arms the one-shot force flag: the next context event runs a
// Phase 1 pass regardless of thresholds.
func (e *Externalizer) ForceNext() { e.forceNext = true }

// Turn returns the context-event counter.
func (e *Externalizer) Turn() int { return e.turn }

// AllowCompaction exposes the latch for inspection.
func (e *Externalizer) AllowCompaction() bool { return e.allowCompaction }

// ResetCompactionLatch clears the latch (used by /rlm off).
func (e *Externalizer) ResetCompactionLatch() { e.allowCompaction = false }

// HandleBeforeCompact consumes the allow-compaction latch: the first event
// after the safety valve failed lets compaction proceed (nil result); every
// other invocation cancels it.
func (e *Externalizer) HandleBeforeCompact() *models.CompactDecision {
	if e.allowCompaction {
		e.allowCompaction = false
		return nil
	}
	return &models.CompactDecision{Cancel: true}
}

// Usage is the host-reported token accounting for one context event.
type Usage struct {
	Tokens        *int
	ContextWindow int
}

// HandleContext runs the full phase machine over the host's message list,
// mutating messages in place and returning them.
func (e *Externalizer) HandleContext(msgs []models.Message, usage Usage) []models.Message {
	if e.disabled || !e.store.Healthy() {
		return msgs
	}

	e.warm.Tick()
	e.turn++

	// Phase 0: replace content whose fingerprint already maps to a record.
	for i := range msgs {
		if IsStubMessage(msgs[i]) {
			continue
		}
		fp := Fingerprint(msgs[i])
		if id, ok := e.store.ExternalizedIDFor(fp); ok {
			e.spliceExisting(&msgs[i], id)
		}
	}

	// Without live usage there is nothing to measure against; inject the
	// manifest and stop.
	if usage.Tokens == nil || usage.ContextWindow <= 0 {
		e.injectManifest(msgs)
		return msgs
	}

	// Calibrate the oracle against the host's actual numbers.
	e.oracle.Observe(tokens.MessageChars(msgs), *usage.Tokens)

	budgetThreshold := usage.ContextWindow * e.cfg.TokenBudgetPercent / 100
	safetyThreshold := usage.ContextWindow * e.cfg.SafetyValvePercent / 100

	// Phase 1: normal externalization. A forced pass drains every eligible
	// group; a threshold-triggered pass stops as soon as the point estimate
	// drops back under budget.
	point := tokens.CountMessages(e.oracle, msgs)
	if e.forceNext || point > budgetThreshold {
		stats := e.externalizePass(msgs, budgetThreshold, passOptions{respectWarmth: true, drainAll: e.forceNext})
		e.forceNext = false
		e.report(stats)
	}

	// Phase 2: manifest injection.
	e.injectManifest(msgs)

	// Phase 3: safety valve with the conservative counter.
	safe := tokens.CountMessagesSafe(e.oracle, msgs, tokens.DefaultCoverage)
	if safe > safetyThreshold {
		stats := e.externalizePass(msgs, safetyThreshold, passOptions{respectWarmth: false, measureSafe: true})
		e.report(stats)
		safe = tokens.CountMessagesSafe(e.oracle, msgs, tokens.DefaultCoverage)
		if safe > safetyThreshold {
			slog.Warn("externalizer: still over safety threshold, allowing compaction",
				"safeTokens", safe, "threshold", safetyThreshold)
			e.allowCompaction = true
		}
	}

	return msgs
}

func (e *Externalizer) report(stats ExternalizeStats) {
	if stats.Count > 0 && e.onExternalize != nil {
		e.onExternalize(stats)
	}
}

// spliceExisting replaces a message whose content is already stored.
func (e *Externalizer) spliceExisting(m *models.Message, id string) {
	entry, ok := e.store.GetIndexEntry(id)
	if !ok {
		return
	}
	spliceStub(m, StubText(id, entry.Type, entry.TokenEstimate, entry.Description))
}

// injectManifest prepends the manifest to the first user message.
func (e *Externalizer) injectManifest(msgs []models.Message) {
	if e.store.RecordCount() == 0 {
		return
	}
	text := manifest.Build(e.store.GetFullIndex(), e.cfg.ManifestBudget)
	for i := range msgs {
		if msgs[i].Role != models.RoleUser {
			continue
		}
		if msgs[i].Content.IsBlocks() {
			blocks := append([]models.ContentBlock{{Type: models.BlockText, Text: text}}, msgs[i].Content.Blocks...)
			msgs[i].Content = models.BlockContent(blocks...)
		} else {
			msgs[i].Content = models.TextContent(text + "\n\n" + msgs[i].Content.Text)
		}
		return
	}
}

// passOptions distinguishes the normal pass from the force pass.
type passOptions struct {
	respectWarmth bool
	drainAll      bool
	measureSafe   bool // measure with the conservative counter (safety valve)
}

// externalizePass externalizes eligible atomic groups until the measured
// estimate falls under the threshold (or, for a drain-all pass, until
// candidates run out).
func (e *Externalizer) externalizePass(msgs []models.Message, threshold int, opts passOptions) ExternalizeStats {
	var stats ExternalizeStats
	groups := buildGroups(msgs)
	candidates := e.selectCandidates(msgs, groups, opts)

	measure := func() int { return tokens.CountMessages(e.oracle, msgs) }
	if opts.measureSafe {
		measure = func() int { return tokens.CountMessagesSafe(e.oracle, msgs, tokens.DefaultCoverage) }
	}

	for _, g := range candidates {
		if !opts.drainAll && measure() <= threshold {
			break
		}
		e.externalizeGroup(msgs, g, &stats)
	}
	return stats
}

// selectCandidates filters and orders groups for externalization.
func (e *Externalizer) selectCandidates(msgs []models.Message, groups []group, opts passOptions) []group {
	newestUser, newestAssistant := newestIndices(msgs)

	var out []group
	for _, g := range groups {
		if g.orphan {
			continue
		}
		eligible := true
		for _, idx := range g.indices {
			m := msgs[idx]
			if idx == newestUser || idx == newestAssistant {
				eligible = false
				break
			}
			if m.Role == models.RoleSystem {
				eligible = false
				break
			}
			if IsStubMessage(m) {
				eligible = false
				break
			}
			if opts.respectWarmth {
				if m.Role == models.RoleTool && e.warm.IsToolCallWarm(m.ToolCallID) {
					eligible = false
					break
				}
				if id, ok := e.store.ExternalizedIDFor(Fingerprint(m)); ok && e.warm.IsWarm(id) {
					eligible = false
					break
				}
			}
		}
		if !eligible {
			continue
		}
		g.chars = 0
		for _, idx := range g.indices {
			g.chars += len(msgs[idx].Content.JoinedText())
		}
		out = append(out, g)
	}

	// Tool-result-bearing groups first, then descending size.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].hasToolResult != out[j].hasToolResult {
			return out[i].hasToolResult
		}
		return out[i].chars > out[j].chars
	})
	return out
}

// externalizeGroup stores every non-stub message of the group and splices
// stubs in place. Messages already fingerprint-mapped reuse their record.
func (e *Externalizer) externalizeGroup(msgs []models.Message, g group, stats *ExternalizeStats) {
	for _, idx := range g.indices {
		m := &msgs[idx]
		if IsStubMessage(*m) {
			continue
		}
		fp := Fingerprint(*m)
		if id, ok := e.store.ExternalizedIDFor(fp); ok {
			e.spliceExisting(m, id)
			continue
		}

		content := serializeContent(m.Content)
		contentType := models.ContentConversation
		if m.Role == models.RoleTool {
			contentType = models.ContentToolOutput
		}
		estimate := e.oracle.Estimate(len(content))
		rec, err := e.store.Add(models.Record{
			Type:          contentType,
			Description:   describe(m.Role, content),
			TokenEstimate: estimate,
			Source:        models.RecordSource{Kind: models.SourceExternalized, Fingerprint: fp},
			Content:       content,
		})
		if err != nil {
			slog.Warn("externalizer: store add failed, leaving message in place", "error", err)
			continue
		}
		spliceStub(m, StubText(rec.ID, rec.Type, rec.TokenEstimate, rec.Description))
		stats.ObjectIDs = append(stats.ObjectIDs, rec.ID)
		stats.Count++
		stats.TokensSaved += estimate
	}
}

// newestIndices locates the newest user and assistant messages, which must
// stay verbatim for the next model call to make sense.
func newestIndices(msgs []models.Message) (newestUser, newestAssistant int) {
	newestUser, newestAssistant = -1, -1
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Role {
		case models.RoleUser:
			if newestUser < 0 {
				newestUser = i
			}
		case models.RoleAssistant:
			if newestAssistant < 0 {
				newestAssistant = i
			}
		}
		if newestUser >= 0 && newestAssistant >= 0 {
			break
		}
	}
	return newestUser, newestAssistant
}
