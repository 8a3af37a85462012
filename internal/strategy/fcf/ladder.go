package fcf

import (
	"math"

	"github.com/shopspring/decimal"
)

// Target is one ladder rung: hitting Spread (percent) commits Position
// (cumulative USD notional) in the rung's direction.
type Target struct {
	Spread   decimal.Decimal `json:"spread"`
	Position decimal.Decimal `json:"position"`
}

// CalcTargets builds the target ladder between the current spread and the
// historical maximum. Positions ramp exponentially from volMin up to the
// full buy-side balance, so wider spreads commit larger trades. The ladder
// is strictly increasing in spread, non-decreasing in position, and its
// last rung always commits the entire balance.
func CalcTargets(spread, hMax, balance, volMin, spreadMin decimal.Decimal) []Target {
	numIntervals := hMax.Sub(spread).Div(spreadMin).IntPart()
	if numIntervals <= 1 {
		first := hMax
		if stepped := spread.Add(spreadMin); stepped.GreaterThan(first) {
			first = stepped
		}
		return []Target{{Spread: first, Position: balance}}
	}

	n := decimal.NewFromInt(numIntervals)
	inc := hMax.Sub(spread).Div(n)

	// Growth factor x such that volMin * x^(n-1) == balance.
	ratio, _ := balance.Div(volMin).Float64()
	growth := decimal.NewFromFloat(math.Pow(ratio, 1/float64(numIntervals-1)))

	targets := make([]Target, 0, numIntervals)
	position := volMin
	for i := int64(1); i <= numIntervals; i++ {
		threshold := spread.Add(inc.Mul(decimal.NewFromInt(i)))

		p := position
		if volMin.GreaterThanOrEqual(balance) || p.GreaterThan(balance) || i == numIntervals {
			// Final rung commits the full balance; positions never exceed it.
			p = balance
		}
		targets = append(targets, Target{Spread: threshold, Position: p})
		position = position.Mul(growth)
	}
	return targets
}
