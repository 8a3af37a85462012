// Package forex supplies fiat conversion rates for USD-normalizing quotes.
package forex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"autotrageur/internal/core"
	httpclient "autotrageur/pkg/http"
)

// Rate is one observed conversion rate: units of quote fiat per one USD.
type Rate struct {
	ID        string
	Quote     string
	Ratio     decimal.Decimal
	FetchedAt time.Time
}

// RateProvider supplies the current rate for a quote fiat.
type RateProvider interface {
	Rate(ctx context.Context, quote string) (*Rate, error)
}

// StaticProvider returns fixed ratios. Used for dry runs and USD-quoted
// venues where the ratio is identically one.
type StaticProvider struct {
	ratios map[string]decimal.Decimal
}

func NewStaticProvider(ratios map[string]decimal.Decimal) *StaticProvider {
	return &StaticProvider{ratios: ratios}
}

func (p *StaticProvider) Rate(_ context.Context, quote string) (*Rate, error) {
	ratio, ok := p.ratios[quote]
	if !ok {
		if quote == "USD" {
			ratio = decimal.NewFromInt(1)
		} else {
			return nil, fmt.Errorf("no static forex ratio for %s", quote)
		}
	}
	return &Rate{
		ID:        uuid.NewString(),
		Quote:     quote,
		Ratio:     ratio,
		FetchedAt: time.Now(),
	}, nil
}

const defaultAPIBaseURL = "https://open.er-api.com"

// APIProvider fetches USD rates from a public forex API and caches them
// with a TTL. Each refreshed rate gets a fresh id so persisted opportunity
// rows can reference the exact rate they were normalized with.
type APIProvider struct {
	client *httpclient.Client
	logger core.ILogger
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]*Rate
}

func NewAPIProvider(logger core.ILogger, ttl time.Duration) *APIProvider {
	return &APIProvider{
		client: httpclient.NewClient(defaultAPIBaseURL, 10*time.Second, nil),
		logger: logger.WithField("component", "forex_provider"),
		ttl:    ttl,
		cache:  make(map[string]*Rate),
	}
}

type ratesResponse struct {
	Result string                 `json:"result"`
	Rates  map[string]json.Number `json:"rates"`
}

func (p *APIProvider) Rate(ctx context.Context, quote string) (*Rate, error) {
	if quote == "USD" {
		return &Rate{
			ID:        uuid.NewString(),
			Quote:     "USD",
			Ratio:     decimal.NewFromInt(1),
			FetchedAt: time.Now(),
		}, nil
	}

	p.mu.Lock()
	cached, ok := p.cache[quote]
	p.mu.Unlock()
	if ok && time.Since(cached.FetchedAt) < p.ttl {
		return cached, nil
	}

	body, err := p.client.Get(ctx, "/v6/latest/USD", nil)
	if err != nil {
		if ok {
			p.logger.Warn("Forex refresh failed, serving stale rate",
				"quote", quote, "age", time.Since(cached.FetchedAt), "error", err)
			return cached, nil
		}
		return nil, fmt.Errorf("forex fetch failed: %w", err)
	}

	var resp ratesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("forex response malformed: %w", err)
	}

	raw, ok := resp.Rates[quote]
	if !ok {
		return nil, fmt.Errorf("forex API has no rate for %s", quote)
	}
	ratio, err := decimal.NewFromString(raw.String())
	if err != nil {
		return nil, fmt.Errorf("forex rate for %s not a number: %w", quote, err)
	}

	rate := &Rate{
		ID:        uuid.NewString(),
		Quote:     quote,
		Ratio:     ratio,
		FetchedAt: time.Now(),
	}

	p.mu.Lock()
	p.cache[quote] = rate
	p.mu.Unlock()

	p.logger.Info("Forex rate refreshed", "quote", quote, "ratio", ratio.String())
	return rate, nil
}
