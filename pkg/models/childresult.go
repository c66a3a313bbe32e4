package models

import (
	"encoding/json"
	"strings"
)

// Confidence grades how much a child result can be trusted.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ChildResult is the structured answer of a child model call.
type ChildResult struct {
	Answer     string     `json:"answer"`
	Confidence Confidence `json:"confidence"`
	Evidence   []string   `json:"evidence"`
}

// LowConfidenceResult wraps raw text that could not be parsed into the
// structured shape.
func LowConfidenceResult(text string) ChildResult {
	return ChildResult{Answer: text, Confidence: ConfidenceLow, Evidence: []string{}}
}

// ParseChildResult interprets a child's final text as a ChildResult. The text
// may be bare JSON or JSON inside a fenced code block; anything unparseable is
// wrapped with low confidence.
func ParseChildResult(text string) ChildResult {
	candidate := strings.TrimSpace(text)
	if fenced := extractFencedJSON(candidate); fenced != "" {
		candidate = fenced
	}
	var parsed ChildResult
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil || parsed.Answer == "" {
		return LowConfidenceResult(text)
	}
	switch parsed.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		parsed.Confidence = ConfidenceLow
	}
	if parsed.Evidence == nil {
		parsed.Evidence = []string{}
	}
	return parsed
}

// extractFencedJSON pulls the body out of a ```json ... ``` fence. Returns ""
// when the text carries no fence.
func extractFencedJSON(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Skip the info string ("json", "JSON", or empty).
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
