// Package commands provides the subcommand router and argument parsing for
// the /rlm slash-command surface. The session wires concrete handlers; this
// package owns dispatch and the key=value grammar used by `config`.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/rlm/internal/host"
)

// Handler processes one subcommand with its remaining arguments.
type Handler func(ctx context.Context, args string, hctx host.Context) (string, error)

// Router dispatches "/rlm <sub> <args…>" onto registered subcommands. The
// empty subcommand name handles a bare "/rlm".
type Router struct {
	subs map[string]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{subs: make(map[string]Handler)}
}

// Register installs a subcommand. Registering a name twice replaces it.
func (r *Router) Register(name string, h Handler) {
	r.subs[name] = h
}

// Names returns the registered subcommand names, sorted, without the empty
// default.
func (r *Router) Names() []string {
	var names []string
	for name := range r.subs {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Dispatch splits the raw argument string into subcommand and rest, and runs
// the matching handler. Unknown subcommands list what exists.
func (r *Router) Dispatch(ctx context.Context, raw string, hctx host.Context) (string, error) {
	sub, rest := splitFirst(strings.TrimSpace(raw))
	h, ok := r.subs[sub]
	if !ok {
		return "", fmt.Errorf("unknown subcommand %q; available: %s", sub, strings.Join(r.Names(), ", "))
	}
	return h(ctx, rest, hctx)
}

// splitFirst cuts the first whitespace-separated token off the string.
func splitFirst(s string) (first, rest string) {
	if s == "" {
		return "", ""
	}
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

// KeyValue is one parsed key=value assignment.
type KeyValue struct {
	Key   string
	Value string
}

// ParseKeyValues parses "k1=v1 k2=v2" argument lists, preserving order.
// Tokens without an equals sign are errors.
func ParseKeyValues(args string) ([]KeyValue, error) {
	var out []KeyValue
	for _, tok := range strings.Fields(args) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", tok)
		}
		out = append(out, KeyValue{Key: key, Value: value})
	}
	return out, nil
}
