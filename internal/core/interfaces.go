// Package core defines the capability interfaces the arbitrage engine consumes.
package core

import (
	"context"

	"github.com/shopspring/decimal"

	"autotrageur/internal/orderbook"
)

// Trader is the per-exchange capability the strategy and executor drive.
// One instance exists per configured venue; it owns the live API handles,
// the wallet snapshot, and the per-poll trade targets.
type Trader interface {
	// Setup and refresh. All may fail with apperrors.ErrAuthenticationFailed.
	LoadMarkets(ctx context.Context) error
	ConnectTestAPI(ctx context.Context) error
	UpdateWalletBalances(ctx context.Context) error

	Name() string
	Base() string
	Quote() string

	BaseBalance() decimal.Decimal
	QuoteBalance() decimal.Decimal
	// AdjustedQuoteBalance is the quote balance minus a slippage buffer so
	// that committing the full amount does not over-spend on impact.
	AdjustedQuoteBalance() decimal.Decimal

	// ConversionNeeded reports whether the venue quotes in a non-USD fiat.
	ConversionNeeded() bool
	// ForexRatio is units of the venue's quote currency per one USD.
	ForexRatio() decimal.Decimal
	// ForexRateID identifies the forex observation behind ForexRatio.
	ForexRateID() string

	// Per-poll targets. When isUSD is set and the venue quotes in a non-USD
	// fiat, the amount is converted through the forex ratio.
	SetBuyTargetAmount(amount decimal.Decimal, isUSD bool)
	SetRoughSellAmount(amount decimal.Decimal, isUSD bool)
	QuoteTargetAmount() decimal.Decimal
	SetQuoteTargetAmount(amount decimal.Decimal)

	FullOrderbook(ctx context.Context) (*orderbook.Book, error)
	// PricesFromOrderbook prices the trader's tracked target amount against
	// one side of a book and returns (usdPrice, quotePrice).
	PricesFromOrderbook(side OrderSide, levels []orderbook.Level) (decimal.Decimal, decimal.Decimal, error)

	MinBaseLimit() decimal.Decimal
	// AmountPrecision returns the venue's base amount precision in decimal
	// places, or nil for arbitrary-precision venues.
	AmountPrecision() *int32
	TakerFee() decimal.Decimal
	// BuyTargetIncludesFee reports whether the taker fee comes out of the
	// purchased base (true) or is added on top of the quote paid (false).
	BuyTargetIncludesFee() bool

	ExecuteMarketBuy(ctx context.Context, price decimal.Decimal) (*OrderResponse, error)
	ExecuteMarketSell(ctx context.Context, price, baseAmount decimal.Decimal) (*OrderResponse, error)

	RoundExchangePrecision(amount decimal.Decimal) decimal.Decimal
	USDFromQuote(quote decimal.Decimal) decimal.Decimal
	QuoteFromUSD(usd decimal.Decimal) decimal.Decimal
}

// Store is the relational persistence capability. Rows inserted through
// InsertRow are buffered and flushed atomically by CommitAll; inserts are
// idempotent on the given primary key columns.
type Store interface {
	Start(ctx context.Context) error
	InsertRow(table string, row map[string]any, primaryKeyCols []string)
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	CommitAll(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Alerter delivers out-of-band notifications. Notify is fire-and-forget;
// AlertAll blocks, tries every channel, and aggregates channel failures.
type Alerter interface {
	Notify(ctx context.Context, payload AlertPayload)
	AlertAll(ctx context.Context, payload AlertPayload) error
}

// ILogger is the structured logging interface threaded through every
// component, implemented on zap in internal/logging.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
