package core

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Project-wide decimal context: 28 significant digits on division,
	// matching the precision the trade arithmetic was designed for.
	// shopspring rounds half-up at that digit instead of truncating
	// toward zero; the divergence is confined to the 28th significant
	// digit, far below any venue's price or amount precision.
	decimal.DivisionPrecision = 28
}

// OrderSide identifies which side of the market an order took.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderResponse is the unified shape an adapter returns for a filled market
// order, regardless of which venue executed it.
type OrderResponse struct {
	PreFeeBase   decimal.Decimal `json:"pre_fee_base"`
	PreFeeQuote  decimal.Decimal `json:"pre_fee_quote"`
	PostFeeBase  decimal.Decimal `json:"post_fee_base"`
	PostFeeQuote decimal.Decimal `json:"post_fee_quote"`
	Fees         decimal.Decimal `json:"fees"`
	FeeAsset     string          `json:"fee_asset"`
	Price        decimal.Decimal `json:"price"`
	// TruePrice is the post-fee effective price actually paid or received.
	TruePrice         decimal.Decimal   `json:"true_price"`
	Side              OrderSide         `json:"side"`
	Type              string            `json:"type"`
	OrderID           string            `json:"order_id"`
	ExchangeTimestamp int64             `json:"exchange_timestamp"`
	LocalTimestamp    int64             `json:"local_timestamp"`
	ExtraInfo         map[string]string `json:"extra_info,omitempty"`
}

// Markets is the per-pair metadata an adapter loads from its venue
// before trading.
type Markets struct {
	// MinBaseLimit is the smallest base amount the venue accepts in one
	// order.
	MinBaseLimit decimal.Decimal
	// AmountPrecision is the venue's base amount precision in decimal
	// places, nil for arbitrary precision.
	AmountPrecision *int32
	// TakerFee as a ratio (0.001 = 10 bps).
	TakerFee decimal.Decimal
	// BuyTargetIncludesFee is true when the taker fee comes out of the
	// purchased base and false when it is added on top of the quote paid.
	BuyTargetIncludesFee bool
}

// Balances is one wallet snapshot for the traded pair.
type Balances struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// AlertLevel grades the severity of an outbound notification.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)

// AlertPayload is the channel-independent alert body.
type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}
