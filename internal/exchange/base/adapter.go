// Package base provides common functionality for exchange adapters.
package base

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"autotrageur/internal/core"
	"autotrageur/internal/orderbook"
	apperrors "autotrageur/pkg/errors"
	"autotrageur/pkg/websocket"
)

// SignRequestFunc attaches venue-specific authentication to a request.
// The raw body is passed separately because most venues sign it.
type SignRequestFunc func(req *http.Request, body []byte) error

// ParseErrorFunc turns a venue-specific error body into a typed error.
// Returning nil falls back to the generic HTTP error.
type ParseErrorFunc func(statusCode int, body []byte) error

// Adapter carries the plumbing shared by all exchange adapters: a rate
// limited HTTP client, the signing and error-parsing hooks, and decimal
// parse helpers.
type Adapter struct {
	Name       string
	Logger     core.ILogger
	HTTPClient *http.Client

	limiter *rate.Limiter

	SignRequest SignRequestFunc
	ParseError  ParseErrorFunc
}

// NewAdapter creates a base adapter. rps bounds the request rate against
// the venue's public limit; burst allows short spikes around order
// placement.
func NewAdapter(name string, rps rate.Limit, burst int, logger core.ILogger) *Adapter {
	return &Adapter{
		Name:   name,
		Logger: logger.WithField("exchange", name),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rps, burst),
	}
}

// ExecuteRequest performs a rate-limited, signed HTTP request and maps
// the response status onto the shared error taxonomy.
func (a *Adapter) ExecuteRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if a.SignRequest != nil {
		if err := a.SignRequest(req, body); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", apperrors.ErrNetwork, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", apperrors.ErrNetwork, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	if a.ParseError != nil {
		if parsed := a.ParseError(resp.StatusCode, respBody); parsed != nil {
			return nil, parsed
		}
	}
	return nil, a.statusError(resp.StatusCode, respBody)
}

func (a *Adapter) statusError(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrAuthenticationFailed, status, body)
	case status == http.StatusTooManyRequests || status == 418:
		return fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrRateLimitExceeded, status, body)
	case status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrExchangeMaintenance, status, body)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrNetwork, status, body)
	default:
		return fmt.Errorf("HTTP %d: %s", status, body)
	}
}

// StartWebSocketStream runs a reconnecting market data stream until the
// context is cancelled.
func (a *Adapter) StartWebSocketStream(ctx context.Context, wsURL string, onMessage func([]byte), onConnected func(), streamName string) {
	stream := websocket.NewStream(websocket.Config{
		Name:        streamName,
		URL:         wsURL,
		OnMessage:   onMessage,
		OnConnected: onConnected,
	}, a.Logger)
	stream.Start()

	go func() {
		<-ctx.Done()
		a.Logger.Info(streamName + " stream stopping")
		stream.Stop()
	}()

	a.Logger.Info(streamName + " stream started")
}

// ParseDecimal parses a venue-reported numeric string, logging and
// returning zero on garbage.
func (a *Adapter) ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		a.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseLevels converts [[price, volume]...] string pairs into book levels.
func (a *Adapter) ParseLevels(raw [][]string) []orderbook.Level {
	out := make([]orderbook.Level, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, orderbook.Level{
			Price:  a.ParseDecimal(lvl[0]),
			Volume: a.ParseDecimal(lvl[1]),
		})
	}
	return out
}
