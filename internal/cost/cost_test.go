package cost

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestEstimateQueryCalls(t *testing.T) {
	e := NewEstimator(nil, 4096)
	if got := e.EstimateQuery([]int{100}, 1, "claude-sonnet-4").Calls; got != 1 {
		t.Errorf("depth 1 calls = %d, want 1", got)
	}
	if got := e.EstimateQuery([]int{100}, 2, "claude-sonnet-4").Calls; got != 2 {
		t.Errorf("depth 2 calls = %d, want 2", got)
	}
}

func TestEstimateQueryCost(t *testing.T) {
	e := NewEstimator(map[string]ModelPricing{
		"default": {InputPerMTok: 1, OutputPerMTok: 2},
	}, 1000)
	est := e.EstimateQuery([]int{500, 500}, 1, "anything")
	// input = 1000 targets + 1000 overhead = 2000 tokens → $0.002
	// output = 1000 max tokens → $0.002
	want := 2000.0/1e6*1 + 1000.0/1e6*2
	if !almostEqual(est.CostPerCall, want) {
		t.Errorf("CostPerCall = %v, want %v", est.CostPerCall, want)
	}
}

func TestEstimateBatchAveragesTargets(t *testing.T) {
	e := NewEstimator(map[string]ModelPricing{
		"default": {InputPerMTok: 1, OutputPerMTok: 0},
	}, 0)
	est := e.EstimateBatch([]int{100, 300}, 1, "x")
	if est.Calls != 2 {
		t.Errorf("Calls = %d, want 2", est.Calls)
	}
	want := (200.0 + CallOverheadTokens) / 1e6
	if !almostEqual(est.CostPerCall, want) {
		t.Errorf("CostPerCall = %v, want %v", est.CostPerCall, want)
	}
	if !almostEqual(est.Total(), 2*want) {
		t.Errorf("Total() = %v, want %v", est.Total(), 2*want)
	}
}

func TestEstimateBatchEmpty(t *testing.T) {
	e := NewEstimator(nil, 4096)
	est := e.EstimateBatch(nil, 1, "x")
	if est.Calls != 0 || est.CostPerCall != 0 {
		t.Errorf("empty batch estimate = %+v, want zero", est)
	}
}

func TestAddCallCost(t *testing.T) {
	e := NewEstimator(map[string]ModelPricing{
		"claude-sonnet-4": {InputPerMTok: 3, OutputPerMTok: 15},
		"default":         {InputPerMTok: 1, OutputPerMTok: 1},
	}, 4096)

	got := e.AddCallCost(1_000_000, 100_000, "claude-sonnet-4")
	if !almostEqual(got, 3+1.5) {
		t.Errorf("AddCallCost() = %v, want 4.5", got)
	}
}

func TestPrefixPricingMatch(t *testing.T) {
	e := NewEstimator(nil, 4096)
	dated := e.AddCallCost(1_000_000, 0, "claude-sonnet-4-20250514")
	exact := e.AddCallCost(1_000_000, 0, "claude-sonnet-4")
	if !almostEqual(dated, exact) {
		t.Errorf("dated model cost = %v, want prefix match %v", dated, exact)
	}
}
