package fcf

import "github.com/shopspring/decimal"

// TargetTracker advances an index through a ladder as the observed spread
// grows, and remembers the last rung a trade was committed against.
type TargetTracker struct {
	CurrentIndex  int `json:"current_index"`
	LastCommitted int `json:"last_committed"`
}

// HasHitTargets reports whether the spread has reached the tracked rung.
// On a momentum change only the first rung matters; the index belongs to
// the abandoned direction and is about to be reset.
func (t *TargetTracker) HasHitTargets(spread decimal.Decimal, ladder []Target, momentumChange bool) bool {
	if len(ladder) == 0 {
		return false
	}
	if momentumChange {
		return spread.GreaterThanOrEqual(ladder[0].Spread)
	}
	return t.CurrentIndex < len(ladder) && spread.GreaterThanOrEqual(ladder[t.CurrentIndex].Spread)
}

// Advance skips the index past every intermediate rung the spread already
// exceeds, so a fast-widening spread commits the largest eligible position.
func (t *TargetTracker) Advance(spread decimal.Decimal, ladder []Target) {
	for t.CurrentIndex+1 < len(ladder) && spread.GreaterThanOrEqual(ladder[t.CurrentIndex+1].Spread) {
		t.CurrentIndex++
	}
}

// TradeVolume returns the USD notional to commit for the tracked rung: the
// increment over the last committed rung when continuing in a direction,
// or the rung's full position on the first trade of a direction.
func (t *TargetTracker) TradeVolume(ladder []Target, momentumChange bool) decimal.Decimal {
	if t.CurrentIndex >= 1 && !momentumChange {
		return ladder[t.CurrentIndex].Position.Sub(ladder[t.LastCommitted].Position)
	}
	return ladder[t.CurrentIndex].Position
}

// Increment commits the tracked rung and moves on to the next.
func (t *TargetTracker) Increment() {
	t.LastCommitted = t.CurrentIndex
	t.CurrentIndex++
}

// Reset clears both indices. Invoked on momentum change.
func (t *TargetTracker) Reset() {
	t.CurrentIndex = 0
	t.LastCommitted = 0
}
