// Package binance implements the Binance spot adapter. The taker fee on
// a market buy is deducted from the purchased base asset, so
// BuyTargetIncludesFee is true here.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"autotrageur/internal/config"
	"autotrageur/internal/core"
	"autotrageur/internal/exchange/base"
	"autotrageur/internal/orderbook"
	apperrors "autotrageur/pkg/errors"
)

const (
	prodBaseURL = "https://api.binance.com"
	testBaseURL = "https://testnet.binance.vision"
	prodWSURL   = "wss://stream.binance.com:9443/ws"

	recvWindowMS = 5000
)

// Adapter talks to the Binance spot REST API for one symbol.
type Adapter struct {
	*base.Adapter

	keys       config.ExchangeKeys
	baseAsset  string
	quoteAsset string
	symbol     string
	baseURL    string
	wsURL      string

	mu       sync.RWMutex
	liveBook *orderbook.Book
	liveAt   time.Time
}

// New creates the adapter for one pair; no network traffic until
// LoadMarkets.
func New(baseAsset, quoteAsset string, keys config.ExchangeKeys, logger core.ILogger) *Adapter {
	a := &Adapter{
		Adapter:    base.NewAdapter("binance", rate.Limit(10), 20, logger),
		keys:       keys,
		baseAsset:  strings.ToUpper(baseAsset),
		quoteAsset: strings.ToUpper(quoteAsset),
		symbol:     strings.ToUpper(baseAsset + quoteAsset),
		baseURL:    prodBaseURL,
		wsURL:      prodWSURL,
	}
	a.ParseError = a.parseAPIError
	return a
}

func (a *Adapter) Name() string { return "binance" }

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// parseAPIError maps Binance error codes onto the shared taxonomy.
func (a *Adapter) parseAPIError(status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Code == 0 {
		return nil
	}
	switch e.Code {
	case -2010, -2019:
		return fmt.Errorf("%w: binance %d: %s", apperrors.ErrInsufficientFunds, e.Code, e.Msg)
	case -1013:
		return fmt.Errorf("%w: binance %d: %s", apperrors.ErrExchangeLimits, e.Code, e.Msg)
	case -1121:
		return fmt.Errorf("%w: binance %d: %s", apperrors.ErrInvalidSymbol, e.Code, e.Msg)
	case -2014, -2015, -1022:
		return fmt.Errorf("%w: binance %d: %s", apperrors.ErrAuthenticationFailed, e.Code, e.Msg)
	case -1003:
		return fmt.Errorf("%w: binance %d: %s", apperrors.ErrRateLimitExceeded, e.Code, e.Msg)
	case -2013:
		return fmt.Errorf("%w: binance %d: %s", apperrors.ErrOrderNotFound, e.Code, e.Msg)
	default:
		if status == http.StatusTooManyRequests || status == 418 {
			return fmt.Errorf("%w: binance %d: %s", apperrors.ErrRateLimitExceeded, e.Code, e.Msg)
		}
		return fmt.Errorf("binance %d: %s", e.Code, e.Msg)
	}
}

// ConnectTestAPI points the adapter at the spot testnet and pings it.
func (a *Adapter) ConnectTestAPI(ctx context.Context) error {
	a.baseURL = testBaseURL
	_, err := a.ExecuteRequest(ctx, http.MethodGet, a.baseURL+"/api/v3/ping", nil, nil)
	return err
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			MinQty      string `json:"minQty"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

type accountInfo struct {
	CommissionRates struct {
		Taker string `json:"taker"`
	} `json:"commissionRates"`
	TakerCommission int64 `json:"takerCommission"`
	Balances        []struct {
		Asset string `json:"asset"`
		Free  string `json:"free"`
	} `json:"balances"`
}

// LoadMarkets loads the symbol's lot filters and the account taker fee.
func (a *Adapter) LoadMarkets(ctx context.Context) (*core.Markets, error) {
	body, err := a.ExecuteRequest(ctx, http.MethodGet,
		a.baseURL+"/api/v3/exchangeInfo?symbol="+a.symbol, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}

	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchangeInfo: %w", err)
	}
	if len(info.Symbols) == 0 {
		return nil, fmt.Errorf("%w: %s not listed", apperrors.ErrInvalidSymbol, a.symbol)
	}

	markets := &core.Markets{BuyTargetIncludesFee: true}
	for _, f := range info.Symbols[0].Filters {
		if f.FilterType == "LOT_SIZE" {
			markets.MinBaseLimit = a.ParseDecimal(f.MinQty)
			precision := stepPrecision(f.StepSize)
			markets.AmountPrecision = &precision
		}
	}

	account, err := a.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}
	if account.CommissionRates.Taker != "" {
		markets.TakerFee = a.ParseDecimal(account.CommissionRates.Taker)
	} else {
		markets.TakerFee = decimal.NewFromInt(account.TakerCommission).Div(decimal.NewFromInt(10000))
	}
	return markets, nil
}

// FetchBalances reads the free balances for the traded pair.
func (a *Adapter) FetchBalances(ctx context.Context) (*core.Balances, error) {
	account, err := a.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}

	balances := &core.Balances{}
	for _, b := range account.Balances {
		switch b.Asset {
		case a.baseAsset:
			balances.Base = a.ParseDecimal(b.Free)
		case a.quoteAsset:
			balances.Quote = a.ParseDecimal(b.Free)
		}
	}
	return balances, nil
}

func (a *Adapter) fetchAccount(ctx context.Context) (*accountInfo, error) {
	body, err := a.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	var account accountInfo
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &account, nil
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// FetchOrderbook returns the depth-stream book when one is warm, else a
// full REST snapshot.
func (a *Adapter) FetchOrderbook(ctx context.Context) (*orderbook.Book, error) {
	a.mu.RLock()
	if a.liveBook != nil && time.Since(a.liveAt) < 5*time.Second {
		book := a.liveBook
		a.mu.RUnlock()
		return book, nil
	}
	a.mu.RUnlock()

	body, err := a.ExecuteRequest(ctx, http.MethodGet,
		a.baseURL+"/api/v3/depth?symbol="+a.symbol+"&limit=1000", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch orderbook: %w", err)
	}

	var depth depthResponse
	if err := json.Unmarshal(body, &depth); err != nil {
		return nil, fmt.Errorf("decode orderbook: %w", err)
	}
	return &orderbook.Book{
		Bids: a.ParseLevels(depth.Bids),
		Asks: a.ParseLevels(depth.Asks),
	}, nil
}

// StartDepthStream keeps a local top-of-book copy warm over WebSocket so
// polls can skip the REST round trip. Optional; FetchOrderbook works
// without it.
func (a *Adapter) StartDepthStream(ctx context.Context) {
	stream := fmt.Sprintf("%s/%s@depth20@100ms", a.wsURL, strings.ToLower(a.symbol))
	a.StartWebSocketStream(ctx, stream, func(msg []byte) {
		var depth depthResponse
		if err := json.Unmarshal(msg, &depth); err != nil {
			a.Logger.Warn("bad depth message", "error", err)
			return
		}
		book := &orderbook.Book{
			Bids: a.ParseLevels(depth.Bids),
			Asks: a.ParseLevels(depth.Asks),
		}
		a.mu.Lock()
		a.liveBook = book
		a.liveAt = time.Now()
		a.mu.Unlock()
	}, nil, a.symbol+" depth")
}

type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	TransactTime        int64  `json:"transactTime"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Fills               []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

// MarketBuy spends quoteAmount via a MARKET order with quoteOrderQty.
// The commission comes out of the received base asset.
func (a *Adapter) MarketBuy(ctx context.Context, quoteAmount, price decimal.Decimal) (*core.OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", a.symbol)
	params.Set("side", "BUY")
	params.Set("type", "MARKET")
	params.Set("quoteOrderQty", quoteAmount.String())
	params.Set("newOrderRespType", "FULL")

	order, err := a.placeOrder(ctx, params)
	if err != nil {
		return nil, err
	}

	resp := a.unifiedResponse(order, core.SideBuy)
	resp.PostFeeBase = resp.PreFeeBase.Sub(resp.Fees)
	resp.PostFeeQuote = resp.PreFeeQuote
	if resp.PostFeeBase.Sign() > 0 {
		resp.TruePrice = resp.PostFeeQuote.Div(resp.PostFeeBase)
	}
	return resp, nil
}

// MarketSell sells baseAmount via a MARKET order. The commission comes
// out of the received quote.
func (a *Adapter) MarketSell(ctx context.Context, baseAmount, price decimal.Decimal) (*core.OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", a.symbol)
	params.Set("side", "SELL")
	params.Set("type", "MARKET")
	params.Set("quantity", baseAmount.String())
	params.Set("newOrderRespType", "FULL")

	order, err := a.placeOrder(ctx, params)
	if err != nil {
		return nil, err
	}

	resp := a.unifiedResponse(order, core.SideSell)
	resp.PostFeeBase = resp.PreFeeBase
	resp.PostFeeQuote = resp.PreFeeQuote.Sub(resp.Fees)
	if resp.PreFeeBase.Sign() > 0 {
		resp.TruePrice = resp.PostFeeQuote.Div(resp.PreFeeBase)
	}
	return resp, nil
}

func (a *Adapter) placeOrder(ctx context.Context, params url.Values) (*orderResponse, error) {
	body, err := a.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if order.Status != "FILLED" {
		return nil, fmt.Errorf("%w: order %d status %s", apperrors.ErrOrderRejected, order.OrderID, order.Status)
	}
	return &order, nil
}

func (a *Adapter) unifiedResponse(order *orderResponse, side core.OrderSide) *core.OrderResponse {
	executed := a.ParseDecimal(order.ExecutedQty)
	quote := a.ParseDecimal(order.CummulativeQuoteQty)

	fees := decimal.Zero
	feeAsset := ""
	for _, fill := range order.Fills {
		fees = fees.Add(a.ParseDecimal(fill.Commission))
		feeAsset = fill.CommissionAsset
	}

	price := decimal.Zero
	if executed.Sign() > 0 {
		price = quote.Div(executed)
	}

	return &core.OrderResponse{
		PreFeeBase:        executed,
		PreFeeQuote:       quote,
		Fees:              fees,
		FeeAsset:          feeAsset,
		Price:             price,
		Side:              side,
		Type:              "market",
		OrderID:           fmt.Sprintf("%d", order.OrderID),
		ExchangeTimestamp: order.TransactTime / 1000,
		LocalTimestamp:    time.Now().Unix(),
	}
}

// signedRequest appends timestamp and HMAC-SHA256 signature per the
// Binance SIGNED endpoint contract.
func (a *Adapter) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", fmt.Sprintf("%d", recvWindowMS))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(a.keys.SecretKey.Reveal()))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{"X-MBX-APIKEY": a.keys.APIKey.Reveal()}
	return a.ExecuteRequest(ctx, method, a.baseURL+path+"?"+query, nil, headers)
}

// stepPrecision counts the decimal places of a lot step like "0.00100000".
func stepPrecision(step string) int32 {
	dot := strings.IndexByte(step, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(step[dot+1:], "0")
	return int32(len(frac))
}
