// Package objects provides the retrieval operations shared by the host-side
// RLM tools and the engine's child tool handlers: windowed peeks into store
// records and scoped searches, both of which mark what they touched warm.
package objects

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/rlm/internal/search"
	"github.com/haasonsaas/rlm/internal/store"
	"github.com/haasonsaas/rlm/internal/warmth"
)

// Peek defaults.
const (
	DefaultPeekLength = 2000
)

// PeekResult is a window into one record's content.
type PeekResult struct {
	ObjectID  string
	Text      string
	Offset    int
	Remaining int
}

// Render formats the window with a continuation hint when content remains.
func (p PeekResult) Render() string {
	out := p.Text
	if p.Remaining > 0 {
		out += fmt.Sprintf("\n\n[%d more characters; continue with rlm_peek(%q, offset=%d)]",
			p.Remaining, p.ObjectID, p.Offset+len(p.Text))
	}
	return out
}

// Peek slices [offset, offset+length) out of the record's content and marks
// the object warm.
func Peek(st *store.Store, warm *warmth.Tracker, id string, offset, length int) (PeekResult, error) {
	rec, ok := st.Get(id)
	if !ok {
		return PeekResult{}, fmt.Errorf("object %s not found", id)
	}
	if offset < 0 {
		offset = 0
	}
	if length <= 0 {
		length = DefaultPeekLength
	}
	content := rec.Content
	if offset > len(content) {
		offset = len(content)
	}
	end := offset + length
	if end > len(content) {
		end = len(content)
	}
	warm.MarkWarm(id)
	return PeekResult{
		ObjectID:  id,
		Text:      content[offset:end],
		Offset:    offset,
		Remaining: len(content) - end,
	}, nil
}

// Search runs a pattern over the given scope (nil or empty means every
// object) and marks matched objects warm.
func Search(st *store.Store, warm *warmth.Tracker, pattern string, scope []string) []search.Match {
	ids := scope
	if len(ids) == 0 {
		ids = st.GetAllIDs()
	}
	p := search.Parse(pattern)
	matches, matchedIDs := search.Across(ids, func(id string) (string, bool) {
		rec, ok := st.Get(id)
		if !ok {
			return "", false
		}
		return rec.Content, true
	}, p)
	warm.MarkWarm(matchedIDs...)
	return matches
}

// RenderMatches formats search results for a model-facing tool reply.
func RenderMatches(pattern string, matches []search.Match) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No matches for %q.", pattern)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d match(es) for %q:\n", len(matches), pattern)
	for _, m := range matches {
		if m.Error != "" {
			fmt.Fprintf(&b, "- %s: search error: %s\n", m.ObjectID, m.Error)
			continue
		}
		fmt.Fprintf(&b, "- %s @%d: …%s…\n", m.ObjectID, m.Offset, collapseWhitespace(m.Context))
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
