package fcf

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrageur/internal/core"
	"autotrageur/internal/orderbook"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                   {}
func (nopLogger) Info(string, ...interface{})                    {}
func (nopLogger) Warn(string, ...interface{})                    {}
func (nopLogger) Error(string, ...interface{})                   {}
func (nopLogger) Fatal(string, ...interface{})                   {}
func (l nopLogger) WithField(string, interface{}) core.ILogger   { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

// fakeTrader is a deterministic venue: USD quote, forex ratio 1, prices
// read straight off the top of its configured book.
type fakeTrader struct {
	name     string
	baseBal  decimal.Decimal
	quoteBal decimal.Decimal
	takerFee decimal.Decimal
	minBase  decimal.Decimal
	book     *orderbook.Book

	quoteTarget      decimal.Decimal
	balanceRefreshes int
}

func newFakeTrader(name string, bid, ask, baseBal, quoteBal string) *fakeTrader {
	return &fakeTrader{
		name:     name,
		baseBal:  d(baseBal),
		quoteBal: d(quoteBal),
		minBase:  d("0.001"),
		book: &orderbook.Book{
			Bids: []orderbook.Level{{Price: d(bid), Volume: d("1000")}},
			Asks: []orderbook.Level{{Price: d(ask), Volume: d("1000")}},
		},
	}
}

func (f *fakeTrader) LoadMarkets(context.Context) error    { return nil }
func (f *fakeTrader) ConnectTestAPI(context.Context) error { return nil }
func (f *fakeTrader) UpdateWalletBalances(context.Context) error {
	f.balanceRefreshes++
	return nil
}

func (f *fakeTrader) Name() string  { return f.name }
func (f *fakeTrader) Base() string  { return "ETH" }
func (f *fakeTrader) Quote() string { return "USD" }

func (f *fakeTrader) BaseBalance() decimal.Decimal          { return f.baseBal }
func (f *fakeTrader) QuoteBalance() decimal.Decimal         { return f.quoteBal }
func (f *fakeTrader) AdjustedQuoteBalance() decimal.Decimal { return f.quoteBal }

func (f *fakeTrader) ConversionNeeded() bool        { return false }
func (f *fakeTrader) ForexRatio() decimal.Decimal   { return decimal.NewFromInt(1) }
func (f *fakeTrader) ForexRateID() string           { return "forex-" + f.name }

func (f *fakeTrader) SetBuyTargetAmount(decimal.Decimal, bool)  {}
func (f *fakeTrader) SetRoughSellAmount(decimal.Decimal, bool)  {}
func (f *fakeTrader) QuoteTargetAmount() decimal.Decimal        { return f.quoteTarget }
func (f *fakeTrader) SetQuoteTargetAmount(a decimal.Decimal)    { f.quoteTarget = a }

func (f *fakeTrader) FullOrderbook(context.Context) (*orderbook.Book, error) {
	return f.book, nil
}

func (f *fakeTrader) PricesFromOrderbook(_ core.OrderSide, levels []orderbook.Level) (decimal.Decimal, decimal.Decimal, error) {
	if len(levels) == 0 {
		return decimal.Decimal{}, decimal.Decimal{}, &orderbook.DepthError{}
	}
	return levels[0].Price, levels[0].Price, nil
}

func (f *fakeTrader) MinBaseLimit() decimal.Decimal { return f.minBase }
func (f *fakeTrader) AmountPrecision() *int32       { return nil }
func (f *fakeTrader) TakerFee() decimal.Decimal     { return f.takerFee }
func (f *fakeTrader) BuyTargetIncludesFee() bool    { return true }

func (f *fakeTrader) ExecuteMarketBuy(context.Context, decimal.Decimal) (*core.OrderResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTrader) ExecuteMarketSell(context.Context, decimal.Decimal, decimal.Decimal) (*core.OrderResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTrader) RoundExchangePrecision(a decimal.Decimal) decimal.Decimal { return a }
func (f *fakeTrader) USDFromQuote(q decimal.Decimal) decimal.Decimal           { return q }
func (f *fakeTrader) QuoteFromUSD(u decimal.Decimal) decimal.Decimal           { return u }

func testStrategy(t1, t2 *fakeTrader) *Strategy {
	cfg := Config{
		VolMin:       d("1000"),
		SpreadMin:    d("1"),
		MaxTradeSize: d("2000"),
	}
	return NewStrategy(t1, t2, cfg, d("10"), d("10"), nopLogger{})
}

func TestFirstPollPrimesAndReturnsNoOpportunity(t *testing.T) {
	// A huge spread on the very first poll must not trade.
	t1 := newFakeTrader("gemini", "110", "111", "10", "2000")
	t2 := newFakeTrader("binance", "99", "100", "10", "2000")
	s := testStrategy(t1, t2)

	trade, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)
	assert.Nil(t, trade)

	st := s.Snapshot()
	assert.True(t, st.HasStarted)
	assert.Equal(t, MomentumNeutral, st.Momentum)
	assert.NotEmpty(t, st.E1Targets)
	assert.NotEmpty(t, st.E2Targets)
}

func TestSecondPollHitsTargetAndPreparesTrade(t *testing.T) {
	t1 := newFakeTrader("gemini", "103", "104", "20", "2000")
	t2 := newFakeTrader("binance", "99", "100", "20", "2000")
	s := testStrategy(t1, t2)

	_, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)

	// Widen the spread past the first rung: e1_spread jumps from ~3% to 10%.
	t1.book.Bids[0].Price = d("110")

	trade, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.Equal(t, MomentumToE1, s.Snapshot().Momentum)
	assert.Same(t, core.Trader(t2), trade.BuyTrader)
	assert.Same(t, core.Trader(t1), trade.SellTrader)
	assert.True(t, trade.BuyPrice.Equal(d("100")), "got %s", trade.BuyPrice)
	assert.True(t, trade.SellPrice.Equal(d("110")), "got %s", trade.SellPrice)
	assert.False(t, s.Snapshot().Chunker.TradeCompleted)
	assert.True(t, t2.quoteTarget.GreaterThan(decimal.Zero))
}

func TestMomentumChangeInSinglePoll(t *testing.T) {
	t1 := newFakeTrader("gemini", "100.5", "101", "20", "2000")
	t2 := newFakeTrader("binance", "100", "100.5", "20", "2000")
	s := testStrategy(t1, t2)

	_, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)

	// Simulate an in-flight opposite-direction run.
	st := s.Snapshot()
	st.Momentum = MomentumToE2
	st.Tracker.CurrentIndex = 1
	st.Tracker.LastCommitted = 1
	s.Restore(st)

	// The e1 direction fires while the e2 direction has gone flat.
	t1.book.Bids[0].Price = d("110")
	t1.book.Asks[0].Price = d("111")

	trade, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)
	require.NotNil(t, trade)

	after := s.Snapshot()
	assert.Equal(t, MomentumToE1, after.Momentum)
	assert.Equal(t, 0, after.Tracker.CurrentIndex)
	assert.Equal(t, 0, after.Tracker.LastCommitted)
	assert.Equal(t, "binance", trade.BuyTrader.Name())
	assert.Equal(t, "gemini", trade.SellTrader.Name())
}

func TestPrepareFailsOnInsufficientCryptoBalance(t *testing.T) {
	// Sell venue holds almost no base asset.
	t1 := newFakeTrader("gemini", "103", "104", "0.01", "2000")
	t2 := newFakeTrader("binance", "99", "100", "20", "2000")
	s := testStrategy(t1, t2)

	_, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)

	t1.book.Bids[0].Price = d("110")

	_, err = s.PollOpportunity(context.Background())
	var insufficient *InsufficientCryptoBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "gemini", insufficient.Exchange)
}

func TestHistoricalMaximaRatchetUp(t *testing.T) {
	t1 := newFakeTrader("gemini", "103", "104", "20", "2000")
	t2 := newFakeTrader("binance", "99", "100", "20", "2000")
	s := testStrategy(t1, t2)

	_, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)

	// 13% spread exceeds the configured 10% ceiling.
	t1.book.Bids[0].Price = d("113")

	_, err = s.PollOpportunity(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Snapshot().HToE1Max.Equal(d("13")), "got %s", s.Snapshot().HToE1Max)
}

func TestBelowExchangeLimitsAbandonsChunk(t *testing.T) {
	t1 := newFakeTrader("gemini", "103", "104", "20", "2000")
	t2 := newFakeTrader("binance", "99", "100", "20", "2000")
	// A minimum order far above anything the ladder can commit.
	t1.minBase = d("100")
	t2.minBase = d("100")
	s := testStrategy(t1, t2)

	_, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)

	t1.book.Bids[0].Price = d("110")

	trade, err := s.PollOpportunity(context.Background())
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.True(t, s.Snapshot().Chunker.TradeCompleted)
}

func TestStateCloneIsDeep(t *testing.T) {
	st := &State{
		HasStarted: true,
		Momentum:   MomentumToE2,
		E1Targets:  testLadder(),
		Tracker:    TargetTracker{CurrentIndex: 2, LastCommitted: 1},
		Chunker:    NewTradeChunker(d("1000")),
		HToE1Max:   d("4"),
		HToE2Max:   d("5"),
	}

	cp := st.Clone()
	cp.E1Targets[0].Spread = d("99")
	cp.Chunker.Reset(d("500"))
	cp.Tracker.Reset()

	assert.True(t, st.E1Targets[0].Spread.Equal(d("3")))
	assert.True(t, st.Chunker.TradeCompleted)
	assert.Equal(t, 2, st.Tracker.CurrentIndex)
}
