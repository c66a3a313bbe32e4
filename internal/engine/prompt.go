package engine

import (
	"fmt"
	"strings"
)

// buildSystemPrompt composes the child call's system prompt from the
// caller's instructions and the recursion position. The answer contract is
// spelled out so ParseChildResult can recover structure from the final text.
func buildSystemPrompt(instructions string, depth, maxDepth int) string {
	var b strings.Builder
	b.WriteString("You are a focused analysis sub-agent operating over externalized conversation objects.\n\n")
	fmt.Fprintf(&b, "Task:\n%s\n\n", strings.TrimSpace(instructions))
	b.WriteString("The user message contains the content of the targeted objects, separated by `---`.\n")
	b.WriteString("Use rlm_peek and rlm_search to pull additional context from the store when the provided content is not enough.\n")
	if depth+1 < maxDepth {
		b.WriteString("Use rlm_query to delegate a narrower sub-question over specific objects when that is cheaper than reading them yourself.\n")
	} else {
		b.WriteString("You are at the maximum recursion depth: answer from the available content only.\n")
	}
	fmt.Fprintf(&b, "\nRecursion depth: %d of %d.\n\n", depth, maxDepth)
	b.WriteString("Reply with a single JSON object, no surrounding prose:\n")
	b.WriteString(`{"answer": "<your answer>", "confidence": "high|medium|low", "evidence": ["<supporting quotes or object ids>"]}`)
	b.WriteString("\nIf the content does not contain the answer, say so in the answer field and use confidence \"low\".")
	return b.String()
}
