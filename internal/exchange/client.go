// Package exchange constructs venue adapters and defines the client
// surface the trader layer consumes.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"autotrageur/internal/core"
	"autotrageur/internal/orderbook"
)

// Client is a raw venue adapter for one trading pair. It speaks the
// venue's REST dialect and returns unified shapes; all policy (targets,
// forex, slippage, dry-run) lives above it in internal/trader.
type Client interface {
	Name() string

	// LoadMarkets fetches the pair's limits, precision and taker fee.
	LoadMarkets(ctx context.Context) (*core.Markets, error)
	// ConnectTestAPI switches the client to the venue's sandbox endpoints.
	ConnectTestAPI(ctx context.Context) error

	FetchBalances(ctx context.Context) (*core.Balances, error)
	FetchOrderbook(ctx context.Context) (*orderbook.Book, error)

	// MarketBuy spends quoteAmount of quote currency at roughly price.
	MarketBuy(ctx context.Context, quoteAmount, price decimal.Decimal) (*core.OrderResponse, error)
	// MarketSell sells baseAmount of base at roughly price.
	MarketSell(ctx context.Context, baseAmount, price decimal.Decimal) (*core.OrderResponse, error)
}

// DepthStreamer is implemented by clients that can keep a local book
// warm over a streaming feed, letting FetchOrderbook skip the REST round
// trip. The stream runs until ctx is cancelled.
type DepthStreamer interface {
	StartDepthStream(ctx context.Context)
}
