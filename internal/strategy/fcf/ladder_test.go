package fcf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcTargetsTwoRungs(t *testing.T) {
	targets := CalcTargets(d("2"), d("4"), d("2000"), d("1000"), d("1"))

	require.Len(t, targets, 2)
	assert.True(t, targets[0].Spread.Equal(d("3")), "got %s", targets[0].Spread)
	assert.True(t, targets[0].Position.Equal(d("1000")), "got %s", targets[0].Position)
	assert.True(t, targets[1].Spread.Equal(d("4")), "got %s", targets[1].Spread)
	assert.True(t, targets[1].Position.Equal(d("2000")), "got %s", targets[1].Position)
}

func TestCalcTargetsThreeRungs(t *testing.T) {
	targets := CalcTargets(d("2"), d("5"), d("2000"), d("500"), d("1"))

	require.Len(t, targets, 3)
	want := []struct{ spread, position string }{
		{"3", "500"},
		{"4", "1000"},
		{"5", "2000"},
	}
	for i, w := range want {
		assert.True(t, targets[i].Spread.Equal(d(w.spread)), "rung %d spread %s", i, targets[i].Spread)
		assert.True(t, targets[i].Position.Equal(d(w.position)), "rung %d position %s", i, targets[i].Position)
	}
}

func TestCalcTargetsSingleRungWhenSpreadNearMax(t *testing.T) {
	// h - s < 2*spread_min collapses the ladder to one rung at h.
	targets := CalcTargets(d("3.5"), d("4"), d("2000"), d("1000"), d("1"))

	require.Len(t, targets, 1)
	assert.True(t, targets[0].Spread.Equal(d("4.5")), "got %s", targets[0].Spread)
	assert.True(t, targets[0].Position.Equal(d("2000")))
}

func TestCalcTargetsSingleRungSpreadBeyondMax(t *testing.T) {
	// Spread already past the historical max: the one rung sits one step
	// beyond the live spread.
	targets := CalcTargets(d("6"), d("4"), d("1500"), d("1000"), d("1"))

	require.Len(t, targets, 1)
	assert.True(t, targets[0].Spread.Equal(d("7")), "got %s", targets[0].Spread)
	assert.True(t, targets[0].Position.Equal(d("1500")))
}

func TestCalcTargetsVolMinAboveBalance(t *testing.T) {
	targets := CalcTargets(d("2"), d("6"), d("800"), d("1000"), d("1"))

	require.Len(t, targets, 4)
	for i, target := range targets {
		assert.True(t, target.Position.Equal(d("800")), "rung %d position %s", i, target.Position)
	}
}

func TestCalcTargetsMonotonic(t *testing.T) {
	targets := CalcTargets(d("1.3"), d("9.7"), d("12345"), d("1000"), d("0.8"))

	require.NotEmpty(t, targets)
	for i := 1; i < len(targets); i++ {
		assert.True(t, targets[i].Spread.GreaterThan(targets[i-1].Spread),
			"spreads not strictly increasing at rung %d", i)
		assert.True(t, targets[i].Position.GreaterThanOrEqual(targets[i-1].Position),
			"positions decreasing at rung %d", i)
	}
	assert.True(t, targets[0].Position.GreaterThanOrEqual(d("1000")))
	assert.True(t, targets[len(targets)-1].Position.Equal(d("12345")))
}
