package trader

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"autotrageur/internal/core"
)

// InsufficientFakeFundsError means a simulated deduction would drive a
// dry-run balance negative.
type InsufficientFakeFundsError struct {
	Exchange string
	Asset    string
	Required decimal.Decimal
	Held     decimal.Decimal
}

func (e *InsufficientFakeFundsError) Error() string {
	return fmt.Sprintf("insufficient fake %s on %s: need %s, have %s",
		e.Asset, e.Exchange, e.Required.String(), e.Held.String())
}

// DryRunExchange is an in-memory venue wallet. Orders settle against it
// instead of the network; fee accumulators feed the teardown summary.
type DryRunExchange struct {
	Name       string
	BaseAsset  string
	QuoteAsset string

	mu         sync.Mutex
	base       decimal.Decimal
	quote      decimal.Decimal
	startBase  decimal.Decimal
	startQuote decimal.Decimal
	baseFees   decimal.Decimal
	quoteFees  decimal.Decimal
	tradeCount int
}

func NewDryRunExchange(name, baseAsset, quoteAsset string, seedBase, seedQuote decimal.Decimal) *DryRunExchange {
	return &DryRunExchange{
		Name:       name,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		base:       seedBase,
		quote:      seedQuote,
		startBase:  seedBase,
		startQuote: seedQuote,
	}
}

// Buy settles a simulated buy: the full post-fee quote leaves the wallet
// and the post-fee base arrives.
func (d *DryRunExchange) Buy(preFeeBase, preFeeQuote, postFeeBase, postFeeQuote decimal.Decimal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if postFeeQuote.GreaterThan(d.quote) {
		return &InsufficientFakeFundsError{
			Exchange: d.Name, Asset: d.QuoteAsset,
			Required: postFeeQuote, Held: d.quote,
		}
	}

	d.quote = d.quote.Sub(postFeeQuote)
	d.base = d.base.Add(postFeeBase)
	d.baseFees = d.baseFees.Add(preFeeBase.Sub(postFeeBase))
	d.quoteFees = d.quoteFees.Add(postFeeQuote.Sub(preFeeQuote))
	d.tradeCount++
	return nil
}

// Sell settles a simulated sell: the base amount leaves the wallet and
// the post-fee quote arrives.
func (d *DryRunExchange) Sell(baseAmount, preFeeQuote, postFeeQuote decimal.Decimal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if baseAmount.GreaterThan(d.base) {
		return &InsufficientFakeFundsError{
			Exchange: d.Name, Asset: d.BaseAsset,
			Required: baseAmount, Held: d.base,
		}
	}

	d.base = d.base.Sub(baseAmount)
	d.quote = d.quote.Add(postFeeQuote)
	d.quoteFees = d.quoteFees.Add(preFeeQuote.Sub(postFeeQuote))
	d.tradeCount++
	return nil
}

// Balances returns the current simulated wallet.
func (d *DryRunExchange) Balances() core.Balances {
	d.mu.Lock()
	defer d.mu.Unlock()
	return core.Balances{Base: d.base, Quote: d.quote}
}

// Summary describes start vs close balances and accumulated fees.
func (d *DryRunExchange) Summary() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("%s: %s %s -> %s (fees %s), %s %s -> %s (fees %s), %d trades",
		d.Name,
		d.BaseAsset, d.startBase.String(), d.base.String(), d.baseFees.String(),
		d.QuoteAsset, d.startQuote.String(), d.quote.String(), d.quoteFees.String(),
		d.tradeCount)
}

// TradeCount reports simulated fills.
func (d *DryRunExchange) TradeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tradeCount
}
