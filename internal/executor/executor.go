// Package executor sequences the two legs of an arbitrage trade: market
// buy, fill verification, market sell, precision-tolerance check. A
// failed buy rolls the strategy back and the run continues; a failed
// sell leaves the bot mid-arbitrage and fails the run.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"autotrageur/internal/core"
	"autotrageur/internal/stats"
	"autotrageur/internal/strategy/fcf"
	"autotrageur/pkg/telemetry"
)

// IncompleteArbitrageError reports a sell leg that moved a different
// base amount than the buy leg delivered.
type IncompleteArbitrageError struct {
	Bought decimal.Decimal
	Sold   decimal.Decimal
}

func (e *IncompleteArbitrageError) Error() string {
	return fmt.Sprintf("incomplete arbitrage: bought %s base but sold %s",
		e.Bought.String(), e.Sold.String())
}

// Strategy is the slice of the strategy machine the executor drives.
type Strategy interface {
	Restore(*fcf.State)
	FinalizeTrade(ctx context.Context, trade *fcf.TradeMetadata, buyResp *core.OrderResponse) error
}

// Executor runs paired orders and persists their records.
type Executor struct {
	strategy Strategy
	store    core.Store
	alerter  core.Alerter
	stats    *stats.StatTracker
	logger   core.ILogger
	dryRun   bool
}

func New(strategy Strategy, store core.Store, alerter core.Alerter,
	tracker *stats.StatTracker, dryRun bool, logger core.ILogger) *Executor {
	return &Executor{
		strategy: strategy,
		store:    store,
		alerter:  alerter,
		stats:    tracker,
		dryRun:   dryRun,
		logger:   logger,
	}
}

// ExecuteTrade runs one buy/sell pair. snapshot is the pre-poll strategy
// state used to roll back a failed buy. A nil return with no trade rows
// committed never happens: every path persists what it knows.
func (e *Executor) ExecuteTrade(ctx context.Context, trade *fcf.TradeMetadata, snapshot *fcf.State) error {
	e.persistOpportunity(trade.Opp)

	buyResp, err := trade.BuyTrader.ExecuteMarketBuy(ctx, trade.BuyPrice)
	if err != nil {
		e.logger.Error("market buy failed",
			"exchange", trade.BuyTrader.Name(), "error", err)
		e.alert(ctx, core.AlertError, "BUY ERROR - CONTINUING", err, trade)
		e.strategy.Restore(snapshot)
		e.commit(ctx)
		return nil
	}

	e.stats.RecordTrade(trade.BuyTrader.Name(), core.SideBuy)
	e.persistTrade(trade.Opp.ID, trade.BuyTrader, buyResp)
	bought := buyResp.PostFeeBase

	sellResp, err := trade.SellTrader.ExecuteMarketSell(ctx, trade.SellPrice, bought)
	if err != nil {
		e.logger.Error("market sell failed after buy",
			"exchange", trade.SellTrader.Name(), "error", err)
		e.alert(ctx, core.AlertCritical, "SELL ERROR - ABORT", err, trade)
		e.commit(ctx)
		return fmt.Errorf("sell leg failed after buy: %w", err)
	}

	e.stats.RecordTrade(trade.SellTrader.Name(), core.SideSell)
	e.persistTrade(trade.Opp.ID, trade.SellTrader, sellResp)

	if err := verifySoldAmount(trade.SellTrader, bought, sellResp); err != nil {
		e.alert(ctx, core.AlertCritical, "INCOMPLETE ARBITRAGE", err, trade)
		e.commit(ctx)
		return err
	}

	if err := e.strategy.FinalizeTrade(ctx, trade, buyResp); err != nil {
		e.commit(ctx)
		return err
	}

	notional := trade.BuyTrader.USDFromQuote(buyResp.PreFeeQuote)
	telemetry.GetGlobalMetrics().AddTradeVolume(ctx, notional.InexactFloat64())

	if !e.dryRun {
		e.alerter.Notify(ctx, core.AlertPayload{
			Level:     core.AlertInfo,
			Title:     "Trade executed",
			Message:   tradeSummary(trade, buyResp, sellResp),
			Timestamp: time.Now(),
		})
	}
	return e.store.CommitAll(ctx)
}

// verifySoldAmount checks the sell leg moved what the buy leg delivered,
// within one unit of the sell venue's amount precision. Venues with
// arbitrary precision get zero tolerance.
func verifySoldAmount(sellTrader core.Trader, bought decimal.Decimal, sellResp *core.OrderResponse) error {
	rounded := sellTrader.RoundExchangePrecision(bought)
	tolerance := decimal.Zero
	if p := sellTrader.AmountPrecision(); p != nil {
		tolerance = decimal.New(1, -*p)
	}
	if rounded.Sub(sellResp.PreFeeBase).Abs().GreaterThan(tolerance) {
		return &IncompleteArbitrageError{Bought: rounded, Sold: sellResp.PreFeeBase}
	}
	return nil
}

func (e *Executor) persistOpportunity(opp *fcf.SpreadOpportunity) {
	e.store.InsertRow("trade_opportunity", map[string]any{
		"id":               opp.ID,
		"e1_spread":        opp.E1Spread.String(),
		"e2_spread":        opp.E2Spread.String(),
		"e1_buy":           opp.E1Buy.String(),
		"e1_sell":          opp.E1Sell.String(),
		"e2_buy":           opp.E2Buy.String(),
		"e2_sell":          opp.E2Sell.String(),
		"e1_forex_rate_id": opp.E1ForexID,
		"e2_forex_rate_id": opp.E2ForexID,
		"time":             time.Now().Unix(),
	}, []string{"id"})
}

func (e *Executor) persistTrade(oppID string, trader core.Trader, resp *core.OrderResponse) {
	e.store.InsertRow("trades", map[string]any{
		"trade_opportunity_id": oppID,
		"side":                 string(resp.Side),
		"exchange":             trader.Name(),
		"base":                 trader.Base(),
		"quote":                trader.Quote(),
		"price":                resp.Price.String(),
		"pre_fee_base":         resp.PreFeeBase.String(),
		"pre_fee_quote":        resp.PreFeeQuote.String(),
		"post_fee_base":        resp.PostFeeBase.String(),
		"post_fee_quote":       resp.PostFeeQuote.String(),
		"time":                 resp.LocalTimestamp,
	}, []string{"trade_opportunity_id", "side"})
}

func (e *Executor) commit(ctx context.Context) {
	if err := e.store.CommitAll(ctx); err != nil {
		e.logger.Error("failed to persist trade records", "error", err)
	}
}

func (e *Executor) alert(ctx context.Context, level core.AlertLevel, title string, cause error, trade *fcf.TradeMetadata) {
	e.alerter.Notify(ctx, core.AlertPayload{
		Level:     level,
		Title:     title,
		Message:   cause.Error(),
		Timestamp: time.Now(),
		Fields: map[string]string{
			"opportunity_id": trade.Opp.ID,
			"buy_exchange":   trade.BuyTrader.Name(),
			"sell_exchange":  trade.SellTrader.Name(),
			"buy_price":      trade.BuyPrice.String(),
			"sell_price":     trade.SellPrice.String(),
		},
	})
}

func tradeSummary(trade *fcf.TradeMetadata, buyResp, sellResp *core.OrderResponse) string {
	return fmt.Sprintf("bought %s %s on %s at %s, sold %s on %s at %s",
		buyResp.PostFeeBase.String(), trade.BuyTrader.Base(), trade.BuyTrader.Name(),
		buyResp.TruePrice.String(),
		sellResp.PreFeeBase.String(), trade.SellTrader.Name(),
		sellResp.TruePrice.String())
}
