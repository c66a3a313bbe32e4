package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/rlm/internal/calltree"
	"github.com/haasonsaas/rlm/internal/commands"
	"github.com/haasonsaas/rlm/internal/host"
)

// commandHandler builds the /rlm handler over a subcommand router.
func (s *Session) commandHandler() host.CommandHandler {
	r := commands.NewRouter()
	r.Register("", s.cmdStatus)
	r.Register("on", s.cmdOn)
	r.Register("off", s.cmdOff)
	r.Register("cancel", s.cmdCancel)
	r.Register("config", s.cmdConfig)
	r.Register("inspect", s.cmdInspect)
	r.Register("externalize", s.cmdExternalize)
	r.Register("store", s.cmdStore)

	return func(ctx context.Context, args string, hctx host.Context) (string, error) {
		return r.Dispatch(ctx, args, hctx)
	}
}

func (s *Session) cmdStatus(ctx context.Context, args string, hctx host.Context) (string, error) {
	state := "enabled"
	if !s.Enabled() {
		state = "disabled"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "RLM %s | session %s\n", state, s.id)
	fmt.Fprintf(&b, "Store: %d objects, %d tokens, %d bytes.\n",
		s.store.RecordCount(), s.store.TotalTokens(), s.store.StoreBytes())
	fmt.Fprintf(&b, "Turn %d | warm objects %d | allow-compaction %v.\n",
		s.ext.Turn(), s.warm.WarmObjectCount(), s.ext.AllowCompaction())
	if op := s.tree.GetActiveOperation(); op != nil {
		fmt.Fprintf(&b, "Active operation %s: %d child calls, est $%.4f, actual $%.4f.\n",
			op.ID, op.ChildCalls, op.EstimatedCost, op.ActualCost)
	}
	return b.String(), nil
}

func (s *Session) cmdOn(ctx context.Context, args string, hctx host.Context) (string, error) {
	if !s.store.Healthy() {
		return "", fmt.Errorf("store is unhealthy; RLM cannot be enabled this session")
	}
	s.cfg.Enabled = true
	s.ext.Enable()
	s.persistConfig(hctx)
	s.emit("rlm:toggle", map[string]any{"enabled": true})
	return "RLM enabled.", nil
}

func (s *Session) cmdOff(ctx context.Context, args string, hctx host.Context) (string, error) {
	s.tree.AbortAll()
	s.cfg.Enabled = false
	s.ext.Disable()
	s.ext.ResetCompactionLatch()
	s.persistConfig(hctx)
	s.emit("rlm:toggle", map[string]any{"enabled": false})
	return "RLM disabled; store preserved on disk.", nil
}

func (s *Session) cmdCancel(ctx context.Context, args string, hctx host.Context) (string, error) {
	s.tree.AbortAll()
	return "All RLM operations cancelled.", nil
}

func (s *Session) cmdConfig(ctx context.Context, args string, hctx host.Context) (string, error) {
	if strings.TrimSpace(args) == "" {
		data, err := json.MarshalIndent(s.cfg, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	pairs, err := commands.ParseKeyValues(args)
	if err != nil {
		return "", err
	}
	var applied []string
	for _, kv := range pairs {
		if err := s.applyConfig(kv.Key, kv.Value); err != nil {
			return "", err
		}
		applied = append(applied, kv.Key)
	}
	if err := s.cfg.Validate(); err != nil {
		return "", err
	}
	s.persistConfig(hctx)
	return "Updated: " + strings.Join(applied, ", "), nil
}

func (s *Session) cmdInspect(ctx context.Context, args string, hctx host.Context) (string, error) {
	roots := s.tree.GetTree()
	if len(roots) == 0 {
		return "No child calls this session.", nil
	}
	var b strings.Builder
	for _, root := range roots {
		renderCallNode(&b, root, 0)
	}
	return b.String(), nil
}

func renderCallNode(b *strings.Builder, n *calltree.CallNode, indent int) {
	fmt.Fprintf(b, "%s%s [%s] depth=%d model=%s in=%d out=%d %s\n",
		strings.Repeat("  ", indent), n.ID, n.Status, n.Depth, n.Model,
		n.InputTokens, n.OutputTokens, n.Instructions)
	for _, c := range n.Children {
		renderCallNode(b, c, indent+1)
	}
}

func (s *Session) cmdExternalize(ctx context.Context, args string, hctx host.Context) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("RLM is disabled")
	}
	s.ext.ForceNext()
	return "Externalization armed; the next turn will run a forced pass.", nil
}

func (s *Session) cmdStore(ctx context.Context, args string, hctx host.Context) (string, error) {
	idx := s.store.GetFullIndex()
	if len(idx.Entries) == 0 {
		return "Store is empty.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d objects, %d tokens:\n", len(idx.Entries), idx.TotalTokens)
	for _, e := range idx.Entries {
		fmt.Fprintf(&b, "  %s  %-12s %6d tok  %s\n", e.ID, e.Type, e.TokenEstimate, e.Description)
	}
	return b.String(), nil
}
