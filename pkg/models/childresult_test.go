package models

import "testing"

func TestParseChildResult(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantAnswer     string
		wantConfidence Confidence
		wantEvidence   int
	}{
		{
			"bare json",
			`{"answer":"42","confidence":"high","evidence":["line 3"]}`,
			"42", ConfidenceHigh, 1,
		},
		{
			"fenced json",
			"```json\n{\"answer\":\"yes\",\"confidence\":\"medium\",\"evidence\":[]}\n```",
			"yes", ConfidenceMedium, 0,
		},
		{
			"plain text wrapped low",
			"I could not find the value.",
			"I could not find the value.", ConfidenceLow, 0,
		},
		{
			"invalid confidence normalized",
			`{"answer":"maybe","confidence":"certain","evidence":[]}`,
			"maybe", ConfidenceLow, 0,
		},
		{
			"missing answer wrapped raw",
			`{"confidence":"high"}`,
			`{"confidence":"high"}`, ConfidenceLow, 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseChildResult(tt.text)
			if got.Answer != tt.wantAnswer {
				t.Errorf("Answer = %q, want %q", got.Answer, tt.wantAnswer)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %q, want %q", got.Confidence, tt.wantConfidence)
			}
			if got.Evidence == nil {
				t.Error("Evidence = nil, want non-nil")
			}
			if len(got.Evidence) != tt.wantEvidence {
				t.Errorf("len(Evidence) = %d, want %d", len(got.Evidence), tt.wantEvidence)
			}
		})
	}
}
