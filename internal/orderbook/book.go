// Package orderbook holds order book snapshots and the depth-walking pricer.
package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Level is a single price level as returned by an exchange, volume in base.
type Level struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// Book is a full order book snapshot. Asks are sorted ascending by price,
// bids descending, both in execution priority order.
type Book struct {
	Bids []Level
	Asks []Level
}

// DepthError indicates that the book side was exhausted before the target
// quote amount could be filled.
type DepthError struct {
	TargetQuote decimal.Decimal
	FilledQuote decimal.Decimal
	Levels      int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("order book too shallow: filled %s of %s quote across %d levels",
		e.FilledQuote.String(), e.TargetQuote.String(), e.Levels)
}

// ExecutableVolume walks one side of the book and returns the base volume a
// market order of targetQuote would execute against it. Levels are consumed
// in priority order; the final level is trimmed so that exactly targetQuote
// is spent, which may reduce the accumulated base volume.
func ExecutableVolume(levels []Level, targetQuote decimal.Decimal) (decimal.Decimal, error) {
	if targetQuote.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("target quote amount must be positive, got %s", targetQuote)
	}

	remaining := targetQuote
	baseVolume := decimal.Zero
	lastPrice := decimal.Zero

	for _, lvl := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		remaining = remaining.Sub(lvl.Price.Mul(lvl.Volume))
		baseVolume = baseVolume.Add(lvl.Volume)
		lastPrice = lvl.Price
	}

	if remaining.Sign() > 0 {
		return decimal.Zero, &DepthError{
			TargetQuote: targetQuote,
			FilledQuote: targetQuote.Sub(remaining),
			Levels:      len(levels),
		}
	}

	// remaining is <= 0 here; add the negative residual back as base volume
	// at the last touched price to trim the overshoot.
	if remaining.Sign() < 0 {
		baseVolume = baseVolume.Add(remaining.Div(lastPrice))
	}

	return baseVolume, nil
}
