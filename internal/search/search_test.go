package search

import (
	"strings"
	"testing"
)

func TestParseSubstringFallback(t *testing.T) {
	tests := []string{
		"plain text",
		"/unterminated",
		"/bad[/",   // invalid regex body → substring
		"/x/q",     // unknown flag → substring
		"",
	}
	for _, raw := range tests {
		if p := Parse(raw); p.IsRegex() {
			t.Errorf("Parse(%q).IsRegex() = true, want substring fallback", raw)
		}
	}
}

func TestParseRegexLiteral(t *testing.T) {
	p := Parse("/ho+st/i")
	if !p.IsRegex() {
		t.Fatal("Parse(/ho+st/i) did not compile as regex")
	}
	m := Object("rlm-obj-1", "localHOOOst here", p)
	if len(m) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(m))
	}
	if m[0].Offset != 5 {
		t.Errorf("Offset = %d, want 5", m[0].Offset)
	}
}

func TestSubstringAdvancesPastMatches(t *testing.T) {
	content := strings.Repeat("abab", 10) // overlapping pattern
	m := Object("rlm-obj-1", content, Parse("abab"))
	if len(m) != 10 {
		t.Errorf("len(matches) = %d, want 10 non-overlapping", len(m))
	}
}

func TestPerObjectCap(t *testing.T) {
	content := strings.Repeat("needle ", MaxMatchesPerObject*3)
	m := Object("rlm-obj-1", content, Parse("needle"))
	if len(m) != MaxMatchesPerObject {
		t.Errorf("len(matches) = %d, want cap %d", len(m), MaxMatchesPerObject)
	}
}

func TestContextWindow(t *testing.T) {
	pad := strings.Repeat("x", 500)
	content := pad + "127.0.0.1" + pad
	m := Object("rlm-obj-1", content, Parse("127.0.0.1"))
	if len(m) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(m))
	}
	if !strings.Contains(m[0].Context, "127.0.0.1") {
		t.Error("context does not contain the match")
	}
	want := ContextChars + len("127.0.0.1") + ContextChars
	if len(m[0].Context) != want {
		t.Errorf("len(Context) = %d, want %d", len(m[0].Context), want)
	}
}

func TestAcrossGlobalCapAndWarmIDs(t *testing.T) {
	contents := map[string]string{
		"rlm-obj-a": strings.Repeat("hit ", 40),
		"rlm-obj-b": strings.Repeat("hit ", 40),
		"rlm-obj-c": "no match here",
	}
	get := func(id string) (string, bool) {
		c, ok := contents[id]
		return c, ok
	}
	matches, warmIDs := Across([]string{"rlm-obj-a", "rlm-obj-b", "rlm-obj-c", "rlm-obj-missing"}, get, Parse("hit"))
	if len(matches) != MaxTotalMatches {
		t.Errorf("len(matches) = %d, want global cap %d", len(matches), MaxTotalMatches)
	}
	// Object a contributes all 40, object b the remaining 10; c never matches.
	if len(warmIDs) != 2 {
		t.Errorf("matched ids = %v, want 2 distinct", warmIDs)
	}
}

func TestAcrossSkipsUnknownIDs(t *testing.T) {
	get := func(id string) (string, bool) { return "", false }
	matches, warmIDs := Across([]string{"rlm-obj-x"}, get, Parse("anything"))
	if len(matches) != 0 || len(warmIDs) != 0 {
		t.Errorf("unknown ids produced matches = %v, warm = %v", matches, warmIDs)
	}
}
