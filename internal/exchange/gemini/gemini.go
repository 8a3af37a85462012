// Package gemini implements the Gemini adapter. Gemini charges the taker
// fee on top of the quote paid rather than out of the purchased base, so
// BuyTargetIncludesFee is false, and it fills arbitrary base precision so
// AmountPrecision is nil. Market orders are emulated with
// immediate-or-cancel limit orders at the walked book price.
package gemini

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
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
	prodBaseURL = "https://api.gemini.com"
	testBaseURL = "https://api.sandbox.gemini.com"
)

var one = decimal.NewFromInt(1)

// Adapter talks to the Gemini REST API for one symbol.
type Adapter struct {
	*base.Adapter

	keys       config.ExchangeKeys
	baseAsset  string
	quoteAsset string
	symbol     string
	baseURL    string

	takerFee decimal.Decimal

	nonceMu   sync.Mutex
	lastNonce int64
}

// New creates the adapter for one pair; no network traffic until
// LoadMarkets.
func New(baseAsset, quoteAsset string, keys config.ExchangeKeys, logger core.ILogger) *Adapter {
	a := &Adapter{
		Adapter:    base.NewAdapter("gemini", rate.Limit(5), 10, logger),
		keys:       keys,
		baseAsset:  strings.ToUpper(baseAsset),
		quoteAsset: strings.ToUpper(quoteAsset),
		symbol:     strings.ToLower(baseAsset + quoteAsset),
		baseURL:    prodBaseURL,
	}
	a.ParseError = a.parseAPIError
	return a
}

func (a *Adapter) Name() string { return "gemini" }

type apiError struct {
	Result  string `json:"result"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (a *Adapter) parseAPIError(status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Result != "error" {
		return nil
	}
	switch e.Reason {
	case "InsufficientFunds":
		return fmt.Errorf("%w: gemini: %s", apperrors.ErrInsufficientFunds, e.Message)
	case "InvalidSignature", "InvalidApiKey", "MissingApikeyHeader", "InvalidNonce":
		return fmt.Errorf("%w: gemini %s: %s", apperrors.ErrAuthenticationFailed, e.Reason, e.Message)
	case "RateLimit":
		return fmt.Errorf("%w: gemini: %s", apperrors.ErrRateLimitExceeded, e.Message)
	case "InvalidSymbol":
		return fmt.Errorf("%w: gemini: %s", apperrors.ErrInvalidSymbol, e.Message)
	case "Maintenance", "System":
		return fmt.Errorf("%w: gemini %s: %s", apperrors.ErrExchangeMaintenance, e.Reason, e.Message)
	case "InvalidQuantity", "InvalidPrice", "InvalidOrderType":
		return fmt.Errorf("%w: gemini %s: %s", apperrors.ErrExchangeLimits, e.Reason, e.Message)
	default:
		return fmt.Errorf("gemini %s: %s", e.Reason, e.Message)
	}
}

// ConnectTestAPI points the adapter at the Gemini sandbox.
func (a *Adapter) ConnectTestAPI(ctx context.Context) error {
	a.baseURL = testBaseURL
	_, err := a.ExecuteRequest(ctx, http.MethodGet,
		a.baseURL+"/v1/symbols/details/"+a.symbol, nil, nil)
	return err
}

type symbolDetails struct {
	Symbol       string          `json:"symbol"`
	MinOrderSize decimal.Decimal `json:"min_order_size"`
	Status       string          `json:"status"`
}

type notionalVolume struct {
	APITakerFeeBps int64 `json:"api_taker_fee_bps"`
}

// LoadMarkets loads the symbol's order minimum and the account taker fee.
func (a *Adapter) LoadMarkets(ctx context.Context) (*core.Markets, error) {
	body, err := a.ExecuteRequest(ctx, http.MethodGet,
		a.baseURL+"/v1/symbols/details/"+a.symbol, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}

	var details symbolDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("decode symbol details: %w", err)
	}
	if details.Symbol == "" {
		return nil, fmt.Errorf("%w: %s not listed", apperrors.ErrInvalidSymbol, a.symbol)
	}

	body, err = a.signedRequest(ctx, "/v1/notionalvolume", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch fee schedule: %w", err)
	}
	var volume notionalVolume
	if err := json.Unmarshal(body, &volume); err != nil {
		return nil, fmt.Errorf("decode fee schedule: %w", err)
	}
	a.takerFee = decimal.NewFromInt(volume.APITakerFeeBps).Div(decimal.NewFromInt(10000))

	// Gemini fills arbitrary base precision.
	return &core.Markets{
		MinBaseLimit:         details.MinOrderSize,
		AmountPrecision:      nil,
		TakerFee:             a.takerFee,
		BuyTargetIncludesFee: false,
	}, nil
}

type balanceEntry struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
}

// FetchBalances reads the available balances for the traded pair.
func (a *Adapter) FetchBalances(ctx context.Context) (*core.Balances, error) {
	body, err := a.signedRequest(ctx, "/v1/balances", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	var entries []balanceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}

	balances := &core.Balances{}
	for _, e := range entries {
		switch strings.ToUpper(e.Currency) {
		case a.baseAsset:
			balances.Base = e.Available
		case a.quoteAsset:
			balances.Quote = e.Available
		}
	}
	return balances, nil
}

type bookEntry struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type bookResponse struct {
	Bids []bookEntry `json:"bids"`
	Asks []bookEntry `json:"asks"`
}

// FetchOrderbook returns the full book; limit 0 requests every level.
func (a *Adapter) FetchOrderbook(ctx context.Context) (*orderbook.Book, error) {
	body, err := a.ExecuteRequest(ctx, http.MethodGet,
		a.baseURL+"/v1/book/"+a.symbol+"?limit_bids=0&limit_asks=0", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch orderbook: %w", err)
	}

	var book bookResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, fmt.Errorf("decode orderbook: %w", err)
	}
	return &orderbook.Book{
		Bids: toLevels(book.Bids),
		Asks: toLevels(book.Asks),
	}, nil
}

func toLevels(entries []bookEntry) []orderbook.Level {
	levels := make([]orderbook.Level, 0, len(entries))
	for _, e := range entries {
		levels = append(levels, orderbook.Level{Price: e.Price, Volume: e.Amount})
	}
	return levels
}

type orderStatus struct {
	OrderID           string          `json:"order_id"`
	AvgExecutionPrice decimal.Decimal `json:"avg_execution_price"`
	ExecutedAmount    decimal.Decimal `json:"executed_amount"`
	IsCancelled       bool            `json:"is_cancelled"`
	TimestampMS       int64           `json:"timestampms"`
}

// MarketBuy spends quoteAmount of quote currency. The fee is charged on
// top of the notional, so the ordered base amount is
// quoteAmount / (price * (1 + fee)).
func (a *Adapter) MarketBuy(ctx context.Context, quoteAmount, price decimal.Decimal) (*core.OrderResponse, error) {
	baseAmount := quoteAmount.Div(price.Mul(one.Add(a.takerFee)))

	order, err := a.placeIOCOrder(ctx, "buy", baseAmount, price)
	if err != nil {
		return nil, err
	}

	notional := order.AvgExecutionPrice.Mul(order.ExecutedAmount)
	fee := notional.Mul(a.takerFee)
	resp := a.unifiedResponse(order, core.SideBuy, notional, fee)
	resp.PostFeeBase = order.ExecutedAmount
	resp.PostFeeQuote = notional.Add(fee)
	if order.ExecutedAmount.Sign() > 0 {
		resp.TruePrice = resp.PostFeeQuote.Div(order.ExecutedAmount)
	}
	return resp, nil
}

// MarketSell sells baseAmount of base; the fee comes out of the quote
// received.
func (a *Adapter) MarketSell(ctx context.Context, baseAmount, price decimal.Decimal) (*core.OrderResponse, error) {
	order, err := a.placeIOCOrder(ctx, "sell", baseAmount, price)
	if err != nil {
		return nil, err
	}

	notional := order.AvgExecutionPrice.Mul(order.ExecutedAmount)
	fee := notional.Mul(a.takerFee)
	resp := a.unifiedResponse(order, core.SideSell, notional, fee)
	resp.PostFeeBase = order.ExecutedAmount
	resp.PostFeeQuote = notional.Sub(fee)
	if order.ExecutedAmount.Sign() > 0 {
		resp.TruePrice = resp.PostFeeQuote.Div(order.ExecutedAmount)
	}
	return resp, nil
}

func (a *Adapter) placeIOCOrder(ctx context.Context, side string, amount, price decimal.Decimal) (*orderStatus, error) {
	payload := map[string]any{
		"symbol":  a.symbol,
		"amount":  amount.String(),
		"price":   price.String(),
		"side":    side,
		"type":    "exchange limit",
		"options": []string{"immediate-or-cancel"},
	}

	body, err := a.signedRequest(ctx, "/v1/order/new", payload)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	var order orderStatus
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if order.ExecutedAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: order %s filled nothing", apperrors.ErrOrderRejected, order.OrderID)
	}
	return &order, nil
}

func (a *Adapter) unifiedResponse(order *orderStatus, side core.OrderSide, notional, fee decimal.Decimal) *core.OrderResponse {
	return &core.OrderResponse{
		PreFeeBase:        order.ExecutedAmount,
		PreFeeQuote:       notional,
		Fees:              fee,
		FeeAsset:          a.quoteAsset,
		Price:             order.AvgExecutionPrice,
		Side:              side,
		Type:              "exchange limit",
		OrderID:           order.OrderID,
		ExchangeTimestamp: order.TimestampMS / 1000,
		LocalTimestamp:    time.Now().Unix(),
	}
}

// signedRequest performs a private API call per the Gemini payload
// contract: base64 JSON payload in a header, HMAC-SHA384 signature.
func (a *Adapter) signedRequest(ctx context.Context, path string, extra map[string]any) ([]byte, error) {
	payload := map[string]any{
		"request": path,
		"nonce":   a.nextNonce(),
	}
	for k, v := range extra {
		payload[k] = v
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha512.New384, []byte(a.keys.SecretKey.Reveal()))
	mac.Write([]byte(encoded))

	headers := map[string]string{
		"Content-Type":       "text/plain",
		"Content-Length":     "0",
		"X-GEMINI-APIKEY":    a.keys.APIKey.Reveal(),
		"X-GEMINI-PAYLOAD":   encoded,
		"X-GEMINI-SIGNATURE": hex.EncodeToString(mac.Sum(nil)),
		"Cache-Control":      "no-cache",
	}
	return a.ExecuteRequest(ctx, http.MethodPost, a.baseURL+path, nil, headers)
}

func (a *Adapter) nextNonce() int64 {
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	nonce := time.Now().UnixMilli()
	if nonce <= a.lastNonce {
		nonce = a.lastNonce + 1
	}
	a.lastNonce = nonce
	return nonce
}
