package externalizer

import "github.com/haasonsaas/rlm/pkg/models"

// group is an ordered set of message indices that must externalize together:
// an assistant message carrying tool-call blocks plus every matching tool
// result. Standalone messages form singleton groups; orphan tool results are
// flagged and dropped from candidate selection.
type group struct {
	indices       []int
	hasToolResult bool
	orphan        bool
	chars         int
}

// buildGroups partitions the message list into atomic groups, preserving
// message order inside each group.
func buildGroups(msgs []models.Message) []group {
	groups := make([]group, 0, len(msgs))
	// tool-call id → group index of the assistant that issued it
	owner := make(map[string]int)
	claimed := make(map[int]bool)

	for i, m := range msgs {
		if m.Role == models.RoleAssistant {
			gi := len(groups)
			groups = append(groups, group{indices: []int{i}})
			for _, use := range m.Content.ToolUseBlocks() {
				owner[use.ID] = gi
			}
			claimed[i] = true
		}
	}

	for i, m := range msgs {
		if claimed[i] {
			continue
		}
		if m.Role == models.RoleTool {
			if gi, ok := owner[m.ToolCallID]; ok {
				groups[gi].indices = append(groups[gi].indices, i)
				groups[gi].hasToolResult = true
			} else {
				groups = append(groups, group{indices: []int{i}, hasToolResult: true, orphan: true})
			}
			claimed[i] = true
			continue
		}
		groups = append(groups, group{indices: []int{i}})
		claimed[i] = true
	}

	// Restore order inside each group (tool results were appended after the
	// assistant pass).
	for gi := range groups {
		sortInts(groups[gi].indices)
	}
	return groups
}

// sortInts is a tiny insertion sort; groups are short.
func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}
