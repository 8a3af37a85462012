package exchange

import (
	"fmt"
	"strings"

	"autotrageur/internal/config"
	"autotrageur/internal/core"
	"autotrageur/internal/exchange/binance"
	"autotrageur/internal/exchange/gemini"
)

// New constructs the adapter for a configured venue. The pair is given
// as base and quote asset codes. Unknown venue identifiers are an error
// at construction, before any network traffic.
func New(name, base, quote string, keys config.ExchangeKeys, logger core.ILogger) (Client, error) {
	switch strings.ToLower(name) {
	case "binance":
		return binance.New(base, quote, keys, logger), nil
	case "gemini":
		return gemini.New(base, quote, keys, logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", name)
	}
}
