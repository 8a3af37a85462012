// Package fcf implements the fiat-crypto-fiat arbitrage strategy: spread
// evaluation, the target ladder, chunked execution, and the poll state machine.
package fcf

import "github.com/shopspring/decimal"

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Spread returns the fee-adjusted round-trip profit rate in percent for
// buying at buyPrice and selling at sellPrice, with taker fees given as
// ratios. The second return is false when either price is non-positive and
// the spread is undefined.
//
// Both fee conventions (fee taken from the purchased base, fee added to the
// quote paid) yield the same value here because the adapters report the
// executable prices pre-fee.
func Spread(buyPrice, sellPrice, buyFee, sellFee decimal.Decimal) (decimal.Decimal, bool) {
	if buyPrice.Sign() <= 0 || sellPrice.Sign() <= 0 {
		return decimal.Decimal{}, false
	}

	spread := one.Div(buyPrice).
		Mul(one.Sub(buyFee)).
		Mul(sellPrice).
		Mul(one.Sub(sellFee)).
		Sub(one).
		Mul(hundred)
	return spread, true
}
