package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrageur/internal/config"
	"autotrageur/internal/logging"
)

func TestNewKnownExchanges(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	for _, name := range []string{"binance", "Binance", "gemini", "GEMINI"} {
		client, err := New(name, "ETH", "USD", config.ExchangeKeys{}, logger)
		require.NoError(t, err, name)
		assert.NotNil(t, client)
	}
}

func TestNewUnknownExchange(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	_, err = New("kraken", "ETH", "USD", config.ExchangeKeys{}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exchange")
}
