package fcf

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"autotrageur/internal/core"
	"autotrageur/internal/orderbook"
	apperrors "autotrageur/pkg/errors"
	"autotrageur/pkg/retry"
	"autotrageur/pkg/telemetry"
)

// InsufficientCryptoBalanceError aborts a prepared trade when the sell
// venue does not hold enough base asset to mirror the buy leg.
type InsufficientCryptoBalanceError struct {
	Exchange string
	Required decimal.Decimal
	Held     decimal.Decimal
}

func (e *InsufficientCryptoBalanceError) Error() string {
	return fmt.Sprintf("insufficient crypto balance on %s: need %s, have %s",
		e.Exchange, e.Required.String(), e.Held.String())
}

// TradeMetadata carries everything the executor needs for one chunk.
type TradeMetadata struct {
	Opp        *SpreadOpportunity
	BuyPrice   decimal.Decimal
	SellPrice  decimal.Decimal
	BuyTrader  core.Trader
	SellTrader core.Trader
}

// Config holds the strategy thresholds, all in USD terms.
type Config struct {
	VolMin       decimal.Decimal
	SpreadMin    decimal.Decimal
	MaxTradeSize decimal.Decimal
}

// Strategy is the two-venue spread state machine. Trader1 and trader2
// are fixed for the lifetime of a run; direction E1 means buying on
// trader2's venue and selling on trader1's, direction E2 the reverse.
type Strategy struct {
	trader1 core.Trader
	trader2 core.Trader
	cfg     Config
	logger  core.ILogger

	balanceChecker *BalanceChecker

	state   *State
	trade   *TradeMetadata
	lastOpp *SpreadOpportunity

	// USD-normalized quote balances, refreshed at the top of each poll.
	usd1 decimal.Decimal
	usd2 decimal.Decimal

	// Minimum viable chunk for the currently prepared trade, in USD.
	minTradeUSD decimal.Decimal
}

// NewStrategy wires a fresh strategy. The state starts empty; call
// Restore to resume from a checkpoint instead.
func NewStrategy(t1, t2 core.Trader, cfg Config, hToE1Max, hToE2Max decimal.Decimal, logger core.ILogger) *Strategy {
	return &Strategy{
		trader1: t1,
		trader2: t2,
		cfg:     cfg,
		logger:  logger,
		state: &State{
			Momentum: MomentumNeutral,
			Tracker:  TargetTracker{},
			Chunker:  NewTradeChunker(cfg.MaxTradeSize),
			HToE1Max: hToE1Max,
			HToE2Max: hToE2Max,
		},
	}
}

// SetBalanceChecker attaches the periodic low-balance warner.
func (s *Strategy) SetBalanceChecker(bc *BalanceChecker) { s.balanceChecker = bc }

// Snapshot returns a deep copy of the mutable strategy state for
// checkpointing. Callers may serialize it without racing the poll loop.
func (s *Strategy) Snapshot() *State { return s.state.Clone() }

// Restore replaces the strategy state wholesale, e.g. after loading a
// checkpoint.
func (s *Strategy) Restore(st *State) { s.state = st.Clone() }

// TradeCompleted reports whether the chunked trade in flight has
// finished. The run loop polls on the shortened interval while false.
func (s *Strategy) TradeCompleted() bool {
	return s.state.Chunker == nil || s.state.Chunker.TradeCompleted
}

// LastOpportunity returns the latest poll's spread observation, nil
// before the first complete poll.
func (s *Strategy) LastOpportunity() *SpreadOpportunity { return s.lastOpp }

// PollOpportunity runs one tick of the state machine: refresh balances
// and targets, fetch both books, derive the spread pair and decide
// whether a trade should execute. A nil TradeMetadata with nil error
// means no opportunity this tick.
func (s *Strategy) PollOpportunity(ctx context.Context) (*TradeMetadata, error) {
	s.trade = nil

	if err := s.trader1.UpdateWalletBalances(ctx); err != nil {
		return nil, fmt.Errorf("refresh %s balances: %w", s.trader1.Name(), err)
	}
	if err := s.trader2.UpdateWalletBalances(ctx); err != nil {
		return nil, fmt.Errorf("refresh %s balances: %w", s.trader2.Name(), err)
	}
	s.usd1 = s.trader1.USDFromQuote(s.trader1.AdjustedQuoteBalance())
	s.usd2 = s.trader2.USDFromQuote(s.trader2.AdjustedQuoteBalance())

	s.setPollTargets()

	book1, book2, err := s.fetchOrderbooks(ctx)
	if err != nil {
		return nil, err
	}

	opp, err := s.buildOpportunity(book1, book2)
	if err != nil {
		var depthErr *orderbook.DepthError
		if errors.As(err, &depthErr) {
			s.logger.Warn("orderbook too shallow for target volume",
				"target_quote", depthErr.TargetQuote.String(),
				"filled_quote", depthErr.FilledQuote.String(),
				"levels", depthErr.Levels)
			return nil, nil
		}
		return nil, err
	}

	s.lastOpp = opp
	telemetry.GetGlobalMetrics().SetSpread("e1", opp.E1Spread.InexactFloat64())
	telemetry.GetGlobalMetrics().SetSpread("e2", opp.E2Spread.InexactFloat64())

	if s.balanceChecker != nil {
		s.balanceChecker.Check(ctx, opp)
	}

	if !s.state.HasStarted {
		s.state.E1Targets = CalcTargets(opp.E1Spread, s.state.HToE1Max, s.usd2, s.cfg.VolMin, s.cfg.SpreadMin)
		s.state.E2Targets = CalcTargets(opp.E2Spread, s.state.HToE2Max, s.usd1, s.cfg.VolMin, s.cfg.SpreadMin)
		s.state.Momentum = MomentumNeutral
		s.state.HasStarted = true
		s.logger.Info("strategy primed",
			"e1_spread", opp.E1Spread.String(),
			"e2_spread", opp.E2Spread.String(),
			"e1_targets", len(s.state.E1Targets),
			"e2_targets", len(s.state.E2Targets))
		return nil, nil
	}

	if err := s.dispatch(opp); err != nil {
		return nil, err
	}

	if s.trade != nil && !s.withinExchangeLimits() {
		s.logger.Warn("trade below exchange minimums, abandoning chunk",
			"min_trade_usd", s.minTradeUSD.String())
		s.recomputeLadder(s.state.Momentum, opp)
		s.state.Chunker.TradeCompleted = true
		s.trade = nil
	}

	if opp.E1Spread.GreaterThan(s.state.HToE1Max) {
		s.state.HToE1Max = opp.E1Spread
	}
	if opp.E2Spread.GreaterThan(s.state.HToE2Max) {
		s.state.HToE2Max = opp.E2Spread
	}

	return s.trade, nil
}

// setPollTargets sizes each venue's depth walk for this tick.
func (s *Strategy) setPollTargets() {
	t1 := decimal.Min(s.cfg.MaxTradeSize, decimal.Max(s.cfg.VolMin, s.usd1))
	t2 := decimal.Min(s.cfg.MaxTradeSize, decimal.Max(s.cfg.VolMin, s.usd2))
	s.trader1.SetBuyTargetAmount(t1, true)
	s.trader2.SetBuyTargetAmount(t2, true)
	// Selling on one venue mirrors buying on the other.
	s.trader1.SetRoughSellAmount(t2, true)
	s.trader2.SetRoughSellAmount(t1, true)
}

func (s *Strategy) fetchOrderbooks(ctx context.Context) (*orderbook.Book, *orderbook.Book, error) {
	var book1, book2 *orderbook.Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return retry.Do(gctx, retry.NetworkPolicy, apperrors.IsRetryable, func() error {
			var err error
			book1, err = s.trader1.FullOrderbook(gctx)
			return err
		})
	})
	g.Go(func() error {
		return retry.Do(gctx, retry.NetworkPolicy, apperrors.IsRetryable, func() error {
			var err error
			book2, err = s.trader2.FullOrderbook(gctx)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("fetch orderbooks: %w", err)
	}
	return book1, book2, nil
}

// buildOpportunity walks both books and derives the two directional
// spreads. E1Spread prices buying on trader2 and selling on trader1.
func (s *Strategy) buildOpportunity(book1, book2 *orderbook.Book) (*SpreadOpportunity, error) {
	e1BuyUSD, e1BuyQuote, err := s.trader1.PricesFromOrderbook(core.SideBuy, book1.Asks)
	if err != nil {
		return nil, err
	}
	e1SellUSD, e1SellQuote, err := s.trader1.PricesFromOrderbook(core.SideSell, book1.Bids)
	if err != nil {
		return nil, err
	}
	e2BuyUSD, e2BuyQuote, err := s.trader2.PricesFromOrderbook(core.SideBuy, book2.Asks)
	if err != nil {
		return nil, err
	}
	e2SellUSD, e2SellQuote, err := s.trader2.PricesFromOrderbook(core.SideSell, book2.Bids)
	if err != nil {
		return nil, err
	}

	e1Spread, ok := Spread(e2BuyUSD, e1SellUSD, s.trader2.TakerFee(), s.trader1.TakerFee())
	if !ok {
		e1Spread = decimal.Zero
	}
	e2Spread, ok := Spread(e1BuyUSD, e2SellUSD, s.trader1.TakerFee(), s.trader2.TakerFee())
	if !ok {
		e2Spread = decimal.Zero
	}

	return &SpreadOpportunity{
		ID:        uuid.NewString(),
		E1Spread:  e1Spread,
		E2Spread:  e2Spread,
		E1Buy:     e1BuyQuote,
		E1Sell:    e1SellQuote,
		E2Buy:     e2BuyQuote,
		E2Sell:    e2SellQuote,
		E1ForexID: s.trader1.ForexRateID(),
		E2ForexID: s.trader2.ForexRateID(),
	}, nil
}

// dispatch applies the momentum state machine to one opportunity.
func (s *Strategy) dispatch(opp *SpreadOpportunity) error {
	switch s.state.Momentum {
	case MomentumNeutral:
		if s.state.Tracker.HasHitTargets(opp.E1Spread, s.state.E1Targets, false) {
			s.state.Momentum = MomentumToE1
			return s.prepareToE1(opp, false)
		}
		if s.state.Tracker.HasHitTargets(opp.E2Spread, s.state.E2Targets, false) {
			s.state.Momentum = MomentumToE2
			return s.prepareToE2(opp, false)
		}
	case MomentumToE2:
		if s.state.Tracker.HasHitTargets(opp.E2Spread, s.state.E2Targets, false) {
			return s.prepareToE2(opp, false)
		}
		if s.state.Tracker.HasHitTargets(opp.E1Spread, s.state.E1Targets, true) {
			s.state.Tracker.Reset()
			s.state.Momentum = MomentumToE1
			return s.prepareToE1(opp, true)
		}
	case MomentumToE1:
		if s.state.Tracker.HasHitTargets(opp.E1Spread, s.state.E1Targets, false) {
			return s.prepareToE1(opp, false)
		}
		if s.state.Tracker.HasHitTargets(opp.E2Spread, s.state.E2Targets, true) {
			s.state.Tracker.Reset()
			s.state.Momentum = MomentumToE2
			return s.prepareToE2(opp, true)
		}
	default:
		return fmt.Errorf("unknown momentum state %d", s.state.Momentum)
	}
	return nil
}

// prepareToE1 stages a buy on trader2's venue against a sell on
// trader1's.
func (s *Strategy) prepareToE1(opp *SpreadOpportunity, momentumChange bool) error {
	return s.prepare(opp, momentumChange, s.trader2, s.trader1,
		s.state.E1Targets, opp.E1Spread, opp.E2Buy, opp.E1Sell)
}

// prepareToE2 stages a buy on trader1's venue against a sell on
// trader2's.
func (s *Strategy) prepareToE2(opp *SpreadOpportunity, momentumChange bool) error {
	return s.prepare(opp, momentumChange, s.trader1, s.trader2,
		s.state.E2Targets, opp.E2Spread, opp.E1Buy, opp.E2Sell)
}

func (s *Strategy) prepare(opp *SpreadOpportunity, momentumChange bool,
	buyT, sellT core.Trader, targets []Target, spread, buyPrice, sellPrice decimal.Decimal) error {

	if !momentumChange {
		s.state.Tracker.Advance(spread, targets)
	}
	totalUSD := s.state.Tracker.TradeVolume(targets, momentumChange)
	if momentumChange || s.state.Chunker.TradeCompleted {
		s.state.Chunker.Reset(totalUSD)
	}

	nextUSD := s.state.Chunker.NextTrade()
	targetQuote := decimal.Min(buyT.QuoteFromUSD(nextUSD), buyT.AdjustedQuoteBalance())
	buyT.SetQuoteTargetAmount(targetQuote)

	requiredBase := targetQuote.Div(buyPrice)
	if requiredBase.GreaterThan(sellT.BaseBalance()) {
		return &InsufficientCryptoBalanceError{
			Exchange: sellT.Name(),
			Required: requiredBase,
			Held:     sellT.BaseBalance(),
		}
	}

	minBase := decimal.Max(buyT.MinBaseLimit(), sellT.MinBaseLimit())
	s.minTradeUSD = buyT.USDFromQuote(buyPrice.Mul(minBase))

	s.trade = &TradeMetadata{
		Opp:        opp,
		BuyPrice:   buyPrice,
		SellPrice:  sellPrice,
		BuyTrader:  buyT,
		SellTrader: sellT,
	}
	return nil
}

// withinExchangeLimits reports whether the staged chunk clears both
// venues' minimum order sizes.
func (s *Strategy) withinExchangeLimits() bool {
	t := s.trade
	minBase := decimal.Max(t.BuyTrader.MinBaseLimit(), t.SellTrader.MinBaseLimit())
	return t.BuyTrader.QuoteTargetAmount().GreaterThanOrEqual(t.BuyPrice.Mul(minBase))
}

// recomputeLadder rebuilds the target ladder for one direction using
// the freshest spreads and balances. The tracker index is deliberately
// left as-is; already-committed rungs stay committed.
func (s *Strategy) recomputeLadder(m Momentum, opp *SpreadOpportunity) {
	switch m {
	case MomentumToE1:
		s.state.E1Targets = CalcTargets(opp.E1Spread, s.state.HToE1Max, s.usd2, s.cfg.VolMin, s.cfg.SpreadMin)
	case MomentumToE2:
		s.state.E2Targets = CalcTargets(opp.E2Spread, s.state.HToE2Max, s.usd1, s.cfg.VolMin, s.cfg.SpreadMin)
	}
}

// FinalizeTrade folds an executed chunk back into the state: record
// progress against the chunker, commit the rung when the target is
// cleared, and rebuild the executed direction's ladder from the new
// balances.
func (s *Strategy) FinalizeTrade(ctx context.Context, trade *TradeMetadata, buyResp *core.OrderResponse) error {
	postFeeUSD := trade.BuyTrader.USDFromQuote(buyResp.PostFeeQuote)
	s.state.Chunker.FinalizeTrade(postFeeUSD, s.minTradeUSD)
	if s.state.Chunker.TradeCompleted {
		s.state.Tracker.Increment()
	}

	if err := trade.BuyTrader.UpdateWalletBalances(ctx); err != nil {
		return fmt.Errorf("refresh %s balances: %w", trade.BuyTrader.Name(), err)
	}
	if err := trade.SellTrader.UpdateWalletBalances(ctx); err != nil {
		return fmt.Errorf("refresh %s balances: %w", trade.SellTrader.Name(), err)
	}
	s.usd1 = s.trader1.USDFromQuote(s.trader1.AdjustedQuoteBalance())
	s.usd2 = s.trader2.USDFromQuote(s.trader2.AdjustedQuoteBalance())

	s.recomputeLadder(s.state.Momentum, trade.Opp)
	return nil
}
