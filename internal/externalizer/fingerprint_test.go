package externalizer

import (
	"testing"

	"github.com/haasonsaas/rlm/pkg/models"
)

func TestFingerprintStability(t *testing.T) {
	m := models.Message{
		Role:      models.RoleUser,
		Content:   models.TextContent("stable content"),
		Timestamp: 1700000000000,
	}
	mCopy := m
	if Fingerprint(m) != Fingerprint(mCopy) {
		t.Error("fingerprint of a copy differs")
	}
}

func TestFingerprintToolResult(t *testing.T) {
	m := models.Message{Role: models.RoleTool, ToolCallID: "tc-42", Content: models.TextContent("x")}
	if got := Fingerprint(m); got != "toolResult:tc-42" {
		t.Errorf("Fingerprint() = %q, want toolResult:tc-42", got)
	}
	other := models.Message{Role: models.RoleTool, ToolCallID: "tc-43", Content: models.TextContent("x")}
	if Fingerprint(m) == Fingerprint(other) {
		t.Error("distinct tool-call ids collided")
	}
}

func TestFingerprintTimestampWins(t *testing.T) {
	a := models.Message{Role: models.RoleUser, Content: models.TextContent("same"), Timestamp: 1}
	b := models.Message{Role: models.RoleUser, Content: models.TextContent("same"), Timestamp: 2}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("distinct timestamps collided")
	}
}

func TestFingerprintContentHashFallback(t *testing.T) {
	a := models.Message{Role: models.RoleUser, Content: models.TextContent("alpha")}
	b := models.Message{Role: models.RoleUser, Content: models.TextContent("beta")}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("distinct contents collided in fallback hash")
	}
	// Role prefixes keep same content apart across roles.
	c := models.Message{Role: models.RoleAssistant, Content: models.TextContent("alpha")}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("distinct roles collided in fallback hash")
	}
}
