package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrageur/internal/config"
	"autotrageur/internal/logging"
	apperrors "autotrageur/pkg/errors"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	keys := config.ExchangeKeys{APIKey: "test-key", SecretKey: "test-secret"}
	a := New("ETH", "USD", keys, logger)
	a.baseURL = server.URL
	return a
}

func decodePayload(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(r.Header.Get("X-GEMINI-PAYLOAD"))
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}

func TestLoadMarkets(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/symbols/details/ethusd":
			w.Write([]byte(`{"symbol":"ETHUSD","min_order_size":"0.001","status":"open"}`))
		case "/v1/notionalvolume":
			assert.Equal(t, "test-key", r.Header.Get("X-GEMINI-APIKEY"))
			assert.NotEmpty(t, r.Header.Get("X-GEMINI-SIGNATURE"))
			payload := decodePayload(t, r)
			assert.Equal(t, "/v1/notionalvolume", payload["request"])
			assert.NotNil(t, payload["nonce"])
			w.Write([]byte(`{"api_taker_fee_bps":10}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	markets, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)

	assert.False(t, markets.BuyTargetIncludesFee)
	assert.Nil(t, markets.AmountPrecision)
	assert.True(t, markets.MinBaseLimit.Equal(d("0.001")))
	assert.True(t, markets.TakerFee.Equal(d("0.001")), "got %s", markets.TakerFee)
}

func TestFetchBalances(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"currency":"ETH","amount":"5","available":"4.5"},
			{"currency":"USD","amount":"2000","available":"1500.25"}]`))
	})

	balances, err := a.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.True(t, balances.Base.Equal(d("4.5")))
	assert.True(t, balances.Quote.Equal(d("1500.25")))
}

func TestFetchOrderbook(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/book/ethusd", r.URL.Path)
		w.Write([]byte(`{"bids":[{"price":"2999.5","amount":"1.2"}],
			"asks":[{"price":"3000.1","amount":"0.5"},{"price":"3001.0","amount":"2"}]}`))
	})

	book, err := a.FetchOrderbook(context.Background())
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 2)
	assert.True(t, book.Asks[1].Price.Equal(d("3001")))
}

func TestMarketBuyFeeOnTop(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/order/new", r.URL.Path)
		payload := decodePayload(t, r)
		assert.Equal(t, "buy", payload["side"])
		assert.Equal(t, "exchange limit", payload["type"])
		assert.Equal(t, []any{"immediate-or-cancel"}, payload["options"])
		// 3003 quote at price 3000 with a 10 bps fee on top orders
		// 3003 / (3000 * 1.001) = 1 base.
		assert.Equal(t, "1", payload["amount"])
		w.Write([]byte(`{"order_id":"106817811","avg_execution_price":"3000.0",
			"executed_amount":"1","is_cancelled":false,"timestampms":1700000000000}`))
	})
	a.takerFee = d("0.001")

	resp, err := a.MarketBuy(context.Background(), d("3003"), d("3000"))
	require.NoError(t, err)

	assert.True(t, resp.PreFeeBase.Equal(d("1")))
	assert.True(t, resp.PreFeeQuote.Equal(d("3000")))
	assert.True(t, resp.PostFeeBase.Equal(d("1")))
	assert.True(t, resp.PostFeeQuote.Equal(d("3003")), "got %s", resp.PostFeeQuote)
	assert.True(t, resp.Fees.Equal(d("3")))
	assert.Equal(t, "USD", resp.FeeAsset)
	assert.True(t, resp.TruePrice.Equal(d("3003")))
}

func TestMarketSellFeeFromQuote(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		payload := decodePayload(t, r)
		assert.Equal(t, "sell", payload["side"])
		w.Write([]byte(`{"order_id":"106817812","avg_execution_price":"3000.0",
			"executed_amount":"1","is_cancelled":false,"timestampms":1700000000000}`))
	})
	a.takerFee = d("0.001")

	resp, err := a.MarketSell(context.Background(), d("1"), d("3000"))
	require.NoError(t, err)

	assert.True(t, resp.PostFeeQuote.Equal(d("2997")), "got %s", resp.PostFeeQuote)
	assert.True(t, resp.TruePrice.Equal(d("2997")))
}

func TestUnfilledOrderRejected(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"106817813","avg_execution_price":"0","executed_amount":"0","is_cancelled":true}`))
	})
	a.takerFee = d("0.001")

	_, err := a.MarketBuy(context.Background(), d("3000"), d("3000"))
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestErrorReasonMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"insufficient funds", `{"result":"error","reason":"InsufficientFunds","message":"not enough USD"}`, apperrors.ErrInsufficientFunds},
		{"bad signature", `{"result":"error","reason":"InvalidSignature","message":"bad sig"}`, apperrors.ErrAuthenticationFailed},
		{"rate limited", `{"result":"error","reason":"RateLimit","message":"slow down"}`, apperrors.ErrRateLimitExceeded},
		{"maintenance", `{"result":"error","reason":"Maintenance","message":"down"}`, apperrors.ErrExchangeMaintenance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			})
			_, err := a.FetchOrderbook(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNonceMonotonic(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	prev := a.nextNonce()
	for i := 0; i < 100; i++ {
		next := a.nextNonce()
		assert.Greater(t, next, prev)
		prev = next
	}
}
