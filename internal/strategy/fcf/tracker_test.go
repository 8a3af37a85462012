package fcf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLadder() []Target {
	return []Target{
		{Spread: d("3"), Position: d("500")},
		{Spread: d("4"), Position: d("1000")},
		{Spread: d("5"), Position: d("2000")},
	}
}

func TestHasHitTargets(t *testing.T) {
	tracker := &TargetTracker{}
	ladder := testLadder()

	assert.False(t, tracker.HasHitTargets(d("2.9"), ladder, false))
	assert.True(t, tracker.HasHitTargets(d("3"), ladder, false))

	tracker.CurrentIndex = 2
	assert.False(t, tracker.HasHitTargets(d("4.5"), ladder, false))
	assert.True(t, tracker.HasHitTargets(d("5"), ladder, false))

	// Past the last rung nothing fires.
	tracker.CurrentIndex = 3
	assert.False(t, tracker.HasHitTargets(d("100"), ladder, false))
}

func TestHasHitTargetsMomentumChangeIgnoresIndex(t *testing.T) {
	tracker := &TargetTracker{CurrentIndex: 2}
	ladder := testLadder()

	assert.True(t, tracker.HasHitTargets(d("3"), ladder, true))
	assert.False(t, tracker.HasHitTargets(d("2.9"), ladder, true))
}

func TestHasHitTargetsEmptyLadder(t *testing.T) {
	tracker := &TargetTracker{}
	assert.False(t, tracker.HasHitTargets(d("100"), nil, false))
	assert.False(t, tracker.HasHitTargets(d("100"), nil, true))
}

func TestAdvanceSkipsIntermediateRungs(t *testing.T) {
	tracker := &TargetTracker{}
	ladder := testLadder()

	tracker.Advance(d("5"), ladder)
	assert.Equal(t, 2, tracker.CurrentIndex)

	// Never advances past the end.
	tracker.Advance(d("100"), ladder)
	assert.Equal(t, 2, tracker.CurrentIndex)
}

func TestAdvanceStaysOnUnmetRung(t *testing.T) {
	tracker := &TargetTracker{}
	ladder := testLadder()

	tracker.Advance(d("3.5"), ladder)
	assert.Equal(t, 0, tracker.CurrentIndex)
}

func TestTradeVolume(t *testing.T) {
	ladder := testLadder()

	// First trade in a direction commits the full rung position.
	tracker := &TargetTracker{}
	assert.True(t, tracker.TradeVolume(ladder, false).Equal(d("500")))

	// Continuing commits only the increment over the last committed rung.
	tracker = &TargetTracker{CurrentIndex: 2, LastCommitted: 0}
	assert.True(t, tracker.TradeVolume(ladder, false).Equal(d("1500")))

	// Momentum change always takes the full position.
	tracker = &TargetTracker{CurrentIndex: 2, LastCommitted: 1}
	assert.True(t, tracker.TradeVolume(ladder, true).Equal(d("2000")))
}

func TestIncrementCommitsRung(t *testing.T) {
	tracker := &TargetTracker{CurrentIndex: 1}

	tracker.Increment()
	assert.Equal(t, 1, tracker.LastCommitted)
	assert.Equal(t, 2, tracker.CurrentIndex)
	assert.Equal(t, tracker.CurrentIndex-1, tracker.LastCommitted)
}

func TestReset(t *testing.T) {
	tracker := &TargetTracker{CurrentIndex: 2, LastCommitted: 1}

	tracker.Reset()
	assert.Equal(t, 0, tracker.CurrentIndex)
	assert.Equal(t, 0, tracker.LastCommitted)
}
