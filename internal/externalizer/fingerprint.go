package externalizer

import (
	"fmt"
	"hash/fnv"

	"github.com/haasonsaas/rlm/pkg/models"
)

// Fingerprint derives the stable key mapping a host message to a store
// record. Tool results key on their tool-call id, timestamped messages on
// role:timestamp, and everything else on a role-prefixed 32-bit content hash
// (the only case where distinct messages may collide).
func Fingerprint(m models.Message) string {
	if m.Role == models.RoleTool && m.ToolCallID != "" {
		return "toolResult:" + m.ToolCallID
	}
	if m.Timestamp != 0 {
		return fmt.Sprintf("%s:%d", m.Role, m.Timestamp)
	}
	h := fnv.New32a()
	h.Write([]byte(m.Content.JoinedText()))
	return fmt.Sprintf("%s:h%08x", m.Role, h.Sum32())
}
