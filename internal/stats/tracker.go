// Package stats tracks per-run trading statistics: start and close
// balances per venue, trade and fatal-error counts. The tracker is part
// of every checkpoint; live trader handles are detached before encoding.
package stats

import (
	"context"

	"github.com/shopspring/decimal"

	"autotrageur/internal/core"
	"autotrageur/pkg/telemetry"
)

// BalanceSnapshot is one venue's wallet at a point in time.
type BalanceSnapshot struct {
	Base  decimal.Decimal `json:"base"`
	Quote decimal.Decimal `json:"quote"`
}

// StatTracker accumulates run statistics. Only the exported fields
// survive a checkpoint round trip; traders hold live network handles and
// are suspended before serialization.
type StatTracker struct {
	ID            string                     `json:"id"`
	StartTime     int64                      `json:"start_time"`
	StartBalances map[string]BalanceSnapshot `json:"start_balances"`
	CloseBalances map[string]BalanceSnapshot `json:"close_balances"`
	TradeCount    int                        `json:"trade_count"`
	FatalCount    int                        `json:"fatal_count"`

	traders []core.Trader
}

// New captures the starting balances of the attached traders.
func New(id string, startTime int64, traders ...core.Trader) *StatTracker {
	t := &StatTracker{
		ID:            id,
		StartTime:     startTime,
		StartBalances: make(map[string]BalanceSnapshot, len(traders)),
		CloseBalances: make(map[string]BalanceSnapshot, len(traders)),
		traders:       traders,
	}
	for _, tr := range traders {
		t.StartBalances[tr.Name()] = BalanceSnapshot{
			Base:  tr.BaseBalance(),
			Quote: tr.QuoteBalance(),
		}
	}
	return t
}

// RecordTrade counts one executed market order.
func (t *StatTracker) RecordTrade(exchange string, side core.OrderSide) {
	t.TradeCount++
	telemetry.GetGlobalMetrics().IncTrades(context.Background(), exchange, string(side))
}

// RecordFatal counts one run-terminating error.
func (t *StatTracker) RecordFatal() {
	t.FatalCount++
	telemetry.GetGlobalMetrics().IncFatalErrors(context.Background())
}

// CaptureCloseBalances snapshots the attached traders at teardown.
func (t *StatTracker) CaptureCloseBalances() {
	for _, tr := range t.traders {
		t.CloseBalances[tr.Name()] = BalanceSnapshot{
			Base:  tr.BaseBalance(),
			Quote: tr.QuoteBalance(),
		}
	}
}

// Suspend detaches the live trader handles for serialization and
// returns them so the caller can Resume afterwards.
func (t *StatTracker) Suspend() []core.Trader {
	traders := t.traders
	t.traders = nil
	return traders
}

// Resume reattaches trader handles after deserialization or after a
// Suspend for encoding.
func (t *StatTracker) Resume(traders []core.Trader) {
	t.traders = traders
}

// LogSummary writes the start vs close picture, used on dry-run
// teardown.
func (t *StatTracker) LogSummary(logger core.ILogger) {
	for name, start := range t.StartBalances {
		end, ok := t.CloseBalances[name]
		if !ok {
			continue
		}
		logger.Info("session balance summary",
			"exchange", name,
			"start_base", start.Base.String(),
			"close_base", end.Base.String(),
			"start_quote", start.Quote.String(),
			"close_quote", end.Quote.String())
	}
	logger.Info("session totals", "trades", t.TradeCount, "fatal_errors", t.FatalCount)
}
