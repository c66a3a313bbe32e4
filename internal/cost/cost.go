// Package cost estimates and accumulates the dollar cost of child model
// calls.
package cost

import "strings"

// CallOverheadTokens approximates the per-call fixed input: system prompt
// plus tool schemas.
const CallOverheadTokens = 1000

// ModelPricing is dollars per million tokens for one model.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultPricing covers common child models; unknown models fall back to
// the "default" entry. Prices are indicative, not billing-grade.
var defaultPricing = map[string]ModelPricing{
	"claude-opus-4":     {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4":   {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-3-5":  {InputPerMTok: 0.8, OutputPerMTok: 4},
	"gpt-4o":            {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.6},
	"default":           {InputPerMTok: 3, OutputPerMTok: 15},
}

// Estimator computes dollar costs from token counts.
type Estimator struct {
	pricing        map[string]ModelPricing
	childMaxTokens int
}

// NewEstimator builds an estimator. A nil pricing map uses the defaults;
// childMaxTokens is the configured per-child completion cap.
func NewEstimator(pricing map[string]ModelPricing, childMaxTokens int) *Estimator {
	if pricing == nil {
		pricing = defaultPricing
	}
	return &Estimator{pricing: pricing, childMaxTokens: childMaxTokens}
}

// priceFor resolves pricing by exact name, then by prefix (model names carry
// date suffixes), then the default entry.
func (e *Estimator) priceFor(model string) ModelPricing {
	if p, ok := e.pricing[model]; ok {
		return p
	}
	for name, p := range e.pricing {
		if name != "default" && strings.HasPrefix(model, name) {
			return p
		}
	}
	return e.pricing["default"]
}

// Estimate is a predicted operation cost.
type Estimate struct {
	Calls       int
	CostPerCall float64
}

// Total returns calls × cost-per-call.
func (e Estimate) Total() float64 { return float64(e.Calls) * e.CostPerCall }

// EstimateQuery predicts the cost of a query over targets with the given
// summed target token estimate. Depth > 1 queries may recurse once more, so
// they count an extra call.
func (e *Estimator) EstimateQuery(targetTokens []int, depth int, model string) Estimate {
	calls := 1
	if depth > 1 {
		calls = 2
	}
	sum := 0
	for _, t := range targetTokens {
		sum += t
	}
	return Estimate{Calls: calls, CostPerCall: e.callCost(sum+CallOverheadTokens, e.childMaxTokens, model)}
}

// EstimateBatch predicts the cost of one call per target, sized by the
// average target.
func (e *Estimator) EstimateBatch(targetTokens []int, depth int, model string) Estimate {
	if len(targetTokens) == 0 {
		return Estimate{}
	}
	sum := 0
	for _, t := range targetTokens {
		sum += t
	}
	avg := sum / len(targetTokens)
	return Estimate{
		Calls:       len(targetTokens),
		CostPerCall: e.callCost(avg+CallOverheadTokens, e.childMaxTokens, model),
	}
}

// AddCallCost returns the dollar cost of one completed call. Callers
// accumulate the result onto the owning operation.
func (e *Estimator) AddCallCost(tokensIn, tokensOut int, model string) float64 {
	return e.callCost(tokensIn, tokensOut, model)
}

func (e *Estimator) callCost(tokensIn, tokensOut int, model string) float64 {
	p := e.priceFor(model)
	return float64(tokensIn)/1e6*p.InputPerMTok + float64(tokensOut)/1e6*p.OutputPerMTok
}
