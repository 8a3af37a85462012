package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(price, volume float64) Level {
	return Level{
		Price:  decimal.NewFromFloat(price),
		Volume: decimal.NewFromFloat(volume),
	}
}

func TestExecutableVolume_SingleLevelExact(t *testing.T) {
	asks := []Level{lvl(10000, 2.0)}

	base, err := ExecutableVolume(asks, decimal.NewFromInt(20000))
	require.NoError(t, err)
	assert.True(t, base.Equal(decimal.NewFromFloat(2.0)), "got %s", base)
}

func TestExecutableVolume_TrimsOvershoot(t *testing.T) {
	asks := []Level{lvl(10050, 1.0), lvl(10000, 1.0)}

	base, err := ExecutableVolume(asks, decimal.NewFromInt(20000))
	require.NoError(t, err)
	// 10050 + 10000 overshoots by 50; trimmed at the last price 10000.
	assert.True(t, base.Equal(decimal.NewFromFloat(1.995)), "got %s", base)
}

func TestExecutableVolume_ExactMultiLevelNoTrim(t *testing.T) {
	asks := []Level{lvl(100, 1.0), lvl(110, 2.0), lvl(120, 0.5)}
	// 100 + 220 + 60 = 380 exactly.
	base, err := ExecutableVolume(asks, decimal.NewFromInt(380))
	require.NoError(t, err)
	assert.True(t, base.Equal(decimal.NewFromFloat(3.5)), "got %s", base)
}

func TestExecutableVolume_DepthExhausted(t *testing.T) {
	asks := []Level{lvl(10000, 1.0)}

	_, err := ExecutableVolume(asks, decimal.NewFromInt(20000))
	require.Error(t, err)

	var depthErr *DepthError
	require.ErrorAs(t, err, &depthErr)
	assert.True(t, depthErr.FilledQuote.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 1, depthErr.Levels)
}

func TestExecutableVolume_EmptyBook(t *testing.T) {
	_, err := ExecutableVolume(nil, decimal.NewFromInt(100))
	var depthErr *DepthError
	require.ErrorAs(t, err, &depthErr)
}

func TestExecutableVolume_RejectsNonPositiveTarget(t *testing.T) {
	asks := []Level{lvl(100, 1.0)}

	_, err := ExecutableVolume(asks, decimal.Zero)
	assert.Error(t, err)

	_, err = ExecutableVolume(asks, decimal.NewFromInt(-5))
	assert.Error(t, err)
}
