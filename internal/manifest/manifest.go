// Package manifest renders a budgeted markdown table of the store index for
// injection into the first user message. The manifest must stay small even
// when the store is huge, so rows beyond the budget collapse into a single
// summary line.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/rlm/pkg/models"
)

// DefaultBudget is the manifest token budget when none is configured.
const DefaultBudget = 2000

// header/footer framing around the table.
const (
	headerText = "## Externalized context (RLM store)\n\n" +
		"Content below was moved out of the working context. " +
		"Use rlm_peek(id) to read an object, rlm_search to find content, rlm_query to analyze.\n\n"
	emptyText = "## Externalized context (RLM store)\n\nNo externalized content yet.\n"
)

// rowTokens estimates a rendered line's token cost; the manifest budget
// bounds the manifest itself, not the content it points at.
func rowTokens(line string) int { return (len(line) + 3) / 4 }

// Build renders the manifest for an index within the token budget. Rows are
// emitted newest-first; once the budget is exhausted the remaining older rows
// collapse into one "+N older" line.
func Build(idx models.StoreIndex, budget int) string {
	if len(idx.Entries) == 0 {
		return emptyText
	}
	if budget <= 0 {
		budget = DefaultBudget
	}

	entries := make([]models.IndexEntry, len(idx.Entries))
	copy(entries, idx.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	var b strings.Builder
	b.WriteString(headerText)
	b.WriteString("| id | type | tokens | description |\n")
	b.WriteString("|---|---|---|---|\n")

	used := rowTokens(headerText) + 20 // framing overhead
	listed := 0
	for _, e := range entries {
		row := fmt.Sprintf("| %s | %s | %d | %s |\n", e.ID, e.Type, e.TokenEstimate, sanitizeCell(e.Description))
		cost := rowTokens(row)
		if used+cost > budget {
			break
		}
		b.WriteString(row)
		used += cost
		listed++
	}

	if listed < len(entries) {
		var olderTokens int
		for _, e := range entries[listed:] {
			olderTokens += e.TokenEstimate
		}
		b.WriteString(fmt.Sprintf("| +%d older | | %d | |\n", len(entries)-listed, olderTokens))
	}

	b.WriteString(fmt.Sprintf("\n%d objects, %d tokens externalized.\n", len(idx.Entries), idx.TotalTokens))
	return b.String()
}

// sanitizeCell keeps descriptions from breaking the table.
func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	const maxCell = 80
	if len(s) > maxCell {
		s = s[:maxCell] + "…"
	}
	return s
}
