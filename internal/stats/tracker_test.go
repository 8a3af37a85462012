package stats

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrageur/internal/core"
)

// stubTrader overrides only the methods the tracker touches. Calling
// anything else panics on the embedded nil interface, which is what we
// want in a test.
type stubTrader struct {
	core.Trader
	name  string
	base  decimal.Decimal
	quote decimal.Decimal
}

func (s *stubTrader) Name() string                  { return s.name }
func (s *stubTrader) BaseBalance() decimal.Decimal  { return s.base }
func (s *stubTrader) QuoteBalance() decimal.Decimal { return s.quote }

func TestNewCapturesStartBalances(t *testing.T) {
	t1 := &stubTrader{name: "gemini", base: decimal.NewFromInt(5), quote: decimal.NewFromInt(10000)}
	t2 := &stubTrader{name: "binance", base: decimal.NewFromInt(3), quote: decimal.NewFromInt(9000)}

	tracker := New("run-1", 1700000000, t1, t2)

	require.Len(t, tracker.StartBalances, 2)
	assert.True(t, tracker.StartBalances["gemini"].Base.Equal(decimal.NewFromInt(5)))
	assert.True(t, tracker.StartBalances["binance"].Quote.Equal(decimal.NewFromInt(9000)))
	assert.Empty(t, tracker.CloseBalances)
}

func TestRecordCounts(t *testing.T) {
	tracker := New("run-1", 1700000000)

	tracker.RecordTrade("gemini", core.SideSell)
	tracker.RecordTrade("binance", core.SideBuy)
	tracker.RecordFatal()

	assert.Equal(t, 2, tracker.TradeCount)
	assert.Equal(t, 1, tracker.FatalCount)
}

func TestCaptureCloseBalancesReflectsCurrentWallets(t *testing.T) {
	tr := &stubTrader{name: "gemini", base: decimal.NewFromInt(5), quote: decimal.NewFromInt(10000)}
	tracker := New("run-1", 1700000000, tr)

	tr.base = decimal.RequireFromString("4.2")
	tr.quote = decimal.RequireFromString("12500")
	tracker.CaptureCloseBalances()

	assert.True(t, tracker.StartBalances["gemini"].Base.Equal(decimal.NewFromInt(5)))
	assert.True(t, tracker.CloseBalances["gemini"].Base.Equal(decimal.RequireFromString("4.2")))
	assert.True(t, tracker.CloseBalances["gemini"].Quote.Equal(decimal.RequireFromString("12500")))
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	tr := &stubTrader{name: "gemini", base: decimal.NewFromInt(1), quote: decimal.NewFromInt(100)}
	tracker := New("run-1", 1700000000, tr)
	tracker.TradeCount = 3

	traders := tracker.Suspend()
	require.Len(t, traders, 1)

	blob, err := json.Marshal(tracker)
	require.NoError(t, err)

	var restored StatTracker
	require.NoError(t, json.Unmarshal(blob, &restored))
	restored.Resume(traders)

	assert.Equal(t, "run-1", restored.ID)
	assert.Equal(t, int64(1700000000), restored.StartTime)
	assert.Equal(t, 3, restored.TradeCount)
	assert.True(t, restored.StartBalances["gemini"].Quote.Equal(decimal.NewFromInt(100)))

	// CaptureCloseBalances works again once handles are reattached.
	restored.CaptureCloseBalances()
	assert.True(t, restored.CloseBalances["gemini"].Base.Equal(decimal.NewFromInt(1)))
}
