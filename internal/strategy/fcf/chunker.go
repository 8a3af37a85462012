package fcf

import "github.com/shopspring/decimal"

// TradeChunker meters a ladder-target trade out across polls so that no
// single poll executes more than MaxTradeSize of USD notional. It persists
// inside the strategy state; while a target is unfinished the run loop
// polls on the shortened interval.
type TradeChunker struct {
	MaxTradeSize   decimal.Decimal `json:"max_trade_size"`
	Target         decimal.Decimal `json:"target"`
	Current        decimal.Decimal `json:"current"`
	TradeCompleted bool            `json:"trade_completed"`
}

// NewTradeChunker creates a chunker with nothing in flight.
func NewTradeChunker(maxTradeSize decimal.Decimal) *TradeChunker {
	return &TradeChunker{
		MaxTradeSize:   maxTradeSize,
		TradeCompleted: true,
	}
}

// Reset starts metering a new target.
func (c *TradeChunker) Reset(target decimal.Decimal) {
	c.Target = target
	c.Current = decimal.Zero
	c.TradeCompleted = false
}

// NextTrade returns the USD notional to execute this poll.
func (c *TradeChunker) NextTrade() decimal.Decimal {
	remaining := c.Target.Sub(c.Current)
	if c.MaxTradeSize.LessThan(remaining) {
		return c.MaxTradeSize
	}
	return remaining
}

// FinalizeTrade records an executed chunk. The target counts as complete
// once the remainder is too small to execute (below minTradeSize).
func (c *TradeChunker) FinalizeTrade(postFeeUSD, minTradeSize decimal.Decimal) {
	c.Current = c.Current.Add(postFeeUSD)
	c.TradeCompleted = c.Target.Sub(c.Current).LessThan(minTradeSize)
}
