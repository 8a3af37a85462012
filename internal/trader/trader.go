// Package trader layers trading policy over a raw exchange adapter:
// slippage-buffered balances, forex normalization, per-poll targets,
// precision rounding and optional dry-run execution.
package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"autotrageur/internal/core"
	"autotrageur/internal/exchange"
	"autotrageur/internal/forex"
	"autotrageur/internal/orderbook"
)

var one = decimal.NewFromInt(1)

// Non-USD fiats the supported venues quote in. Anything else (USD and
// USD-pegged stablecoins) needs no forex conversion.
var fiatQuotes = map[string]bool{
	"EUR": true, "GBP": true, "CAD": true, "JPY": true, "KRW": true,
	"CHF": true, "AUD": true, "SGD": true, "HKD": true,
}

// Trader implements core.Trader for one venue and pair.
type Trader struct {
	client exchange.Client
	logger core.ILogger

	baseAsset  string
	quoteAsset string
	slippage   decimal.Decimal

	forexProvider    forex.RateProvider
	conversionNeeded bool
	forexRate        *forex.Rate

	markets  *core.Markets
	balances core.Balances

	buyTargetAmount   decimal.Decimal
	roughSellAmount   decimal.Decimal
	quoteTargetAmount decimal.Decimal

	dryRun *DryRunExchange
}

// New wires a live trader. Call EnableDryRun before LoadMarkets to trade
// against in-memory balances instead of the venue wallet.
func New(client exchange.Client, baseAsset, quoteAsset string, slippage decimal.Decimal,
	forexProvider forex.RateProvider, logger core.ILogger) *Trader {
	return &Trader{
		client:           client,
		logger:           logger.WithField("exchange", client.Name()),
		baseAsset:        baseAsset,
		quoteAsset:       quoteAsset,
		slippage:         slippage,
		forexProvider:    forexProvider,
		conversionNeeded: fiatQuotes[quoteAsset],
	}
}

// EnableDryRun seeds an in-memory exchange; orders settle against it and
// wallet reads come from it.
func (t *Trader) EnableDryRun(seedBase, seedQuote decimal.Decimal) *DryRunExchange {
	t.dryRun = NewDryRunExchange(t.client.Name(), t.baseAsset, t.quoteAsset, seedBase, seedQuote)
	return t.dryRun
}

// DryRunExchangeHandle returns the attached dry-run exchange, nil when
// live.
func (t *Trader) DryRunExchangeHandle() *DryRunExchange { return t.dryRun }

func (t *Trader) LoadMarkets(ctx context.Context) error {
	markets, err := t.client.LoadMarkets(ctx)
	if err != nil {
		return err
	}
	t.markets = markets
	t.logger.Info("markets loaded",
		"min_base_limit", markets.MinBaseLimit.String(),
		"taker_fee", markets.TakerFee.String(),
		"buy_target_includes_fee", markets.BuyTargetIncludesFee)
	return nil
}

func (t *Trader) ConnectTestAPI(ctx context.Context) error {
	return t.client.ConnectTestAPI(ctx)
}

// UpdateWalletBalances refreshes the wallet snapshot and the forex rate
// it is normalized with.
func (t *Trader) UpdateWalletBalances(ctx context.Context) error {
	rate, err := t.forexProvider.Rate(ctx, t.quoteAsset)
	if err != nil {
		if t.conversionNeeded {
			return fmt.Errorf("fetch forex rate for %s: %w", t.quoteAsset, err)
		}
		rate = &forex.Rate{ID: uuid.NewString(), Quote: t.quoteAsset, Ratio: one, FetchedAt: time.Now()}
	}
	t.forexRate = rate

	if t.dryRun != nil {
		t.balances = t.dryRun.Balances()
		return nil
	}

	balances, err := t.client.FetchBalances(ctx)
	if err != nil {
		return err
	}
	t.balances = *balances
	return nil
}

func (t *Trader) Name() string  { return t.client.Name() }
func (t *Trader) Base() string  { return t.baseAsset }
func (t *Trader) Quote() string { return t.quoteAsset }

func (t *Trader) BaseBalance() decimal.Decimal  { return t.balances.Base }
func (t *Trader) QuoteBalance() decimal.Decimal { return t.balances.Quote }

// AdjustedQuoteBalance discounts the wallet by the worst-case slippage
// ratio so a full-balance order cannot over-commit on impact.
func (t *Trader) AdjustedQuoteBalance() decimal.Decimal {
	return t.balances.Quote.Mul(one.Sub(t.slippage))
}

func (t *Trader) ConversionNeeded() bool { return t.conversionNeeded }

func (t *Trader) ForexRatio() decimal.Decimal {
	if t.forexRate == nil {
		return one
	}
	return t.forexRate.Ratio
}

func (t *Trader) ForexRateID() string {
	if t.forexRate == nil {
		return ""
	}
	return t.forexRate.ID
}

func (t *Trader) SetBuyTargetAmount(amount decimal.Decimal, isUSD bool) {
	if isUSD {
		amount = t.QuoteFromUSD(amount)
	}
	t.buyTargetAmount = amount
}

func (t *Trader) SetRoughSellAmount(amount decimal.Decimal, isUSD bool) {
	if isUSD {
		amount = t.QuoteFromUSD(amount)
	}
	t.roughSellAmount = amount
}

func (t *Trader) QuoteTargetAmount() decimal.Decimal { return t.quoteTargetAmount }

func (t *Trader) SetQuoteTargetAmount(amount decimal.Decimal) { t.quoteTargetAmount = amount }

func (t *Trader) FullOrderbook(ctx context.Context) (*orderbook.Book, error) {
	return t.client.FetchOrderbook(ctx)
}

// PricesFromOrderbook walks one book side with the tracked target amount
// and returns the executable average price in USD and quote terms.
func (t *Trader) PricesFromOrderbook(side core.OrderSide, levels []orderbook.Level) (decimal.Decimal, decimal.Decimal, error) {
	target := t.buyTargetAmount
	if side == core.SideSell {
		target = t.roughSellAmount
	}

	baseVolume, err := orderbook.ExecutableVolume(levels, target)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	quotePrice := target.Div(baseVolume)
	usdPrice := quotePrice
	if t.conversionNeeded {
		usdPrice = target.Div(t.ForexRatio()).Div(baseVolume)
	}
	return usdPrice, quotePrice, nil
}

func (t *Trader) MinBaseLimit() decimal.Decimal { return t.markets.MinBaseLimit }
func (t *Trader) AmountPrecision() *int32       { return t.markets.AmountPrecision }
func (t *Trader) TakerFee() decimal.Decimal     { return t.markets.TakerFee }
func (t *Trader) BuyTargetIncludesFee() bool    { return t.markets.BuyTargetIncludesFee }

// ExecuteMarketBuy spends the tracked quote target at roughly price.
func (t *Trader) ExecuteMarketBuy(ctx context.Context, price decimal.Decimal) (*core.OrderResponse, error) {
	if t.dryRun != nil {
		return t.dryRunBuy(price)
	}
	resp, err := t.client.MarketBuy(ctx, t.quoteTargetAmount, price)
	if err != nil {
		return nil, err
	}
	t.logOrder("buy", resp)
	return resp, nil
}

// ExecuteMarketSell sells baseAmount, rounded to the venue's precision,
// at roughly price.
func (t *Trader) ExecuteMarketSell(ctx context.Context, price, baseAmount decimal.Decimal) (*core.OrderResponse, error) {
	rounded := t.RoundExchangePrecision(baseAmount)
	if t.dryRun != nil {
		return t.dryRunSell(price, rounded)
	}
	resp, err := t.client.MarketSell(ctx, rounded, price)
	if err != nil {
		return nil, err
	}
	t.logOrder("sell", resp)
	return resp, nil
}

// RoundExchangePrecision truncates a base amount to the venue's amount
// precision. Arbitrary-precision venues pass through unchanged.
func (t *Trader) RoundExchangePrecision(amount decimal.Decimal) decimal.Decimal {
	if t.markets == nil || t.markets.AmountPrecision == nil {
		return amount
	}
	return amount.Truncate(*t.markets.AmountPrecision)
}

func (t *Trader) USDFromQuote(quote decimal.Decimal) decimal.Decimal {
	if !t.conversionNeeded {
		return quote
	}
	return quote.Div(t.ForexRatio())
}

func (t *Trader) QuoteFromUSD(usd decimal.Decimal) decimal.Decimal {
	if !t.conversionNeeded {
		return usd
	}
	return usd.Mul(t.ForexRatio())
}

// dryRunBuy settles a simulated market buy against the dry-run exchange
// using the venue's fee convention.
func (t *Trader) dryRunBuy(price decimal.Decimal) (*core.OrderResponse, error) {
	fee := t.markets.TakerFee
	quoteTarget := t.quoteTargetAmount

	var preFeeBase, preFeeQuote, postFeeBase, postFeeQuote, fees decimal.Decimal
	feeAsset := t.quoteAsset
	if t.markets.BuyTargetIncludesFee {
		// Fee comes out of the purchased base.
		preFeeBase = quoteTarget.Div(price)
		fees = preFeeBase.Mul(fee)
		postFeeBase = preFeeBase.Sub(fees)
		preFeeQuote = quoteTarget
		postFeeQuote = quoteTarget
		feeAsset = t.baseAsset
	} else {
		// Fee is added on top of the quote paid.
		preFeeQuote = quoteTarget.Div(one.Add(fee))
		fees = quoteTarget.Sub(preFeeQuote)
		preFeeBase = preFeeQuote.Div(price)
		postFeeBase = preFeeBase
		postFeeQuote = quoteTarget
	}

	if err := t.dryRun.Buy(preFeeBase, preFeeQuote, postFeeBase, postFeeQuote); err != nil {
		return nil, err
	}
	t.balances = t.dryRun.Balances()

	resp := &core.OrderResponse{
		PreFeeBase:     preFeeBase,
		PreFeeQuote:    preFeeQuote,
		PostFeeBase:    postFeeBase,
		PostFeeQuote:   postFeeQuote,
		Fees:           fees,
		FeeAsset:       feeAsset,
		Price:          price,
		TruePrice:      postFeeQuote.Div(postFeeBase),
		Side:           core.SideBuy,
		Type:           "market",
		OrderID:        uuid.NewString(),
		LocalTimestamp: time.Now().Unix(),
	}
	resp.ExchangeTimestamp = resp.LocalTimestamp
	return resp, nil
}

func (t *Trader) dryRunSell(price, baseAmount decimal.Decimal) (*core.OrderResponse, error) {
	preFeeQuote := baseAmount.Mul(price)
	fees := preFeeQuote.Mul(t.markets.TakerFee)
	postFeeQuote := preFeeQuote.Sub(fees)

	if err := t.dryRun.Sell(baseAmount, preFeeQuote, postFeeQuote); err != nil {
		return nil, err
	}
	t.balances = t.dryRun.Balances()

	resp := &core.OrderResponse{
		PreFeeBase:     baseAmount,
		PreFeeQuote:    preFeeQuote,
		PostFeeBase:    baseAmount,
		PostFeeQuote:   postFeeQuote,
		Fees:           fees,
		FeeAsset:       t.quoteAsset,
		Price:          price,
		TruePrice:      postFeeQuote.Div(baseAmount),
		Side:           core.SideSell,
		Type:           "market",
		OrderID:        uuid.NewString(),
		LocalTimestamp: time.Now().Unix(),
	}
	resp.ExchangeTimestamp = resp.LocalTimestamp
	return resp, nil
}

func (t *Trader) logOrder(side string, resp *core.OrderResponse) {
	t.logger.Info("market "+side+" filled",
		"order_id", resp.OrderID,
		"pre_fee_base", resp.PreFeeBase.String(),
		"post_fee_base", resp.PostFeeBase.String(),
		"post_fee_quote", resp.PostFeeQuote.String(),
		"true_price", resp.TruePrice.String())
}
