package run

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrageur/internal/exchange"
)

type streamingClient struct {
	exchange.Client
	started int
}

func (c *streamingClient) StartDepthStream(_ context.Context) { c.started++ }

type plainClient struct {
	exchange.Client
}

func TestStartDepthStream(t *testing.T) {
	t.Run("streaming client starts its feed", func(t *testing.T) {
		client := &streamingClient{}
		startDepthStream(context.Background(), client, false)
		assert.Equal(t, 1, client.started)
	})

	t.Run("sandbox endpoints skip the feed", func(t *testing.T) {
		client := &streamingClient{}
		startDepthStream(context.Background(), client, true)
		assert.Zero(t, client.started)
	})

	t.Run("non-streaming client is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() {
			startDepthStream(context.Background(), &plainClient{}, false)
		})
	})
}

func TestSplitPair(t *testing.T) {
	base, quote, err := splitPair("ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "USD", quote)

	for _, bad := range []string{"", "ETHUSD", "/USD", "ETH/"} {
		_, _, err := splitPair(bad)
		assert.Error(t, err, bad)
	}
}
