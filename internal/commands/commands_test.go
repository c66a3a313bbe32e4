package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/rlm/internal/host"
)

func TestDispatch(t *testing.T) {
	r := NewRouter()
	r.Register("", func(ctx context.Context, args string, hctx host.Context) (string, error) {
		return "status", nil
	})
	r.Register("config", func(ctx context.Context, args string, hctx host.Context) (string, error) {
		return "config:" + args, nil
	})
	hctx := &host.MockContext{}

	tests := []struct {
		raw  string
		want string
	}{
		{"", "status"},
		{"   ", "status"},
		{"config maxDepth=3", "config:maxDepth=3"},
		{"config", "config:"},
	}
	for _, tt := range tests {
		got, err := r.Dispatch(context.Background(), tt.raw, hctx)
		if err != nil {
			t.Errorf("Dispatch(%q) error = %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Dispatch(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestDispatchUnknown(t *testing.T) {
	r := NewRouter()
	r.Register("on", func(ctx context.Context, args string, hctx host.Context) (string, error) { return "", nil })
	_, err := r.Dispatch(context.Background(), "frobnicate", &host.MockContext{})
	if err == nil || !strings.Contains(err.Error(), "on") {
		t.Errorf("Dispatch(unknown) error = %v, want listing of subcommands", err)
	}
}

func TestParseKeyValues(t *testing.T) {
	got, err := ParseKeyValues("maxDepth=3 enabled=false childModel=")
	if err != nil {
		t.Fatalf("ParseKeyValues() error = %v", err)
	}
	want := []KeyValue{{"maxDepth", "3"}, {"enabled", "false"}, {"childModel", ""}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pair[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseKeyValuesRejectsBareTokens(t *testing.T) {
	if _, err := ParseKeyValues("maxDepth"); err == nil {
		t.Error("ParseKeyValues(bare token) error = nil")
	}
	if _, err := ParseKeyValues("=3"); err == nil {
		t.Error("ParseKeyValues(empty key) error = nil")
	}
}
