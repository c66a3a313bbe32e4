package externalizer

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/rlm/pkg/models"
)

// StubPrefix opens every stub text; phase checks use it to recognize
// already-externalized messages.
const StubPrefix = "[RLM externalized: "

// StubText renders the replacement text for an externalized record.
func StubText(id string, contentType models.ContentType, tokenEstimate int, description string) string {
	return fmt.Sprintf("%s%s | %s | %d tokens | %s]\nUse rlm_peek(%q) to view, or rlm_search to find specific content.",
		StubPrefix, id, contentType, tokenEstimate, description, id)
}

// IsStubText reports whether a text begins with the stub marker.
func IsStubText(text string) bool {
	return strings.HasPrefix(text, StubPrefix)
}

// IsStubMessage reports whether the message content is already a stub. For
// block content the first text block carries the marker.
func IsStubMessage(m models.Message) bool {
	if !m.Content.IsBlocks() {
		return IsStubText(m.Content.Text)
	}
	for _, b := range m.Content.Blocks {
		if b.Type == models.BlockText {
			return IsStubText(b.Text)
		}
	}
	return false
}

// spliceStub replaces the message content with the stub text. Tool-use
// blocks of assistant content are preserved after the stub: the host
// protocol requires matched tool-call/tool-result pairs.
func spliceStub(m *models.Message, stub string) {
	uses := m.Content.ToolUseBlocks()
	if len(uses) == 0 {
		if m.Content.IsBlocks() {
			m.Content = models.BlockContent(models.ContentBlock{Type: models.BlockText, Text: stub})
		} else {
			m.Content = models.TextContent(stub)
		}
		return
	}
	blocks := make([]models.ContentBlock, 0, len(uses)+1)
	blocks = append(blocks, models.ContentBlock{Type: models.BlockText, Text: stub})
	blocks = append(blocks, uses...)
	m.Content = models.BlockContent(blocks...)
}

// serializeContent flattens message content into the stored raw string:
// plain text stays as is, block content keeps its text blocks joined with
// block-kind markers for tool activity.
func serializeContent(c models.Content) string {
	if !c.IsBlocks() {
		return c.Text
	}
	var b strings.Builder
	for _, blk := range c.Blocks {
		switch blk.Type {
		case models.BlockText:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(blk.Text)
		case models.BlockToolUse:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "[tool call %s: %s %s]", blk.ID, blk.Name, string(blk.Input))
		case models.BlockToolResult:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "[tool result %s]\n%s", blk.ToolUseID, blk.Content)
		case models.BlockImage:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "[image %s]", blk.MimeType)
		}
	}
	return b.String()
}

// describe derives a short record description from content.
func describe(role models.Role, content string) string {
	text := strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	const max = 60
	if len(text) > max {
		text = text[:max] + "…"
	}
	if text == "" {
		text = "(empty)"
	}
	return fmt.Sprintf("%s: %s", role, text)
}
