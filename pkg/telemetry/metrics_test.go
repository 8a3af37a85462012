package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestHolder(t *testing.T) (*MetricsHolder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m := &MetricsHolder{
		spreadMap:     make(map[string]float64),
		lowBalanceMap: make(map[string]int64),
	}
	require.NoError(t, m.InitMetrics(provider.Meter("test")))
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			out[md.Name] = md
		}
	}
	return out
}

func TestTradeInstrumentsRecord(t *testing.T) {
	m, reader := newTestHolder(t)
	ctx := context.Background()

	m.IncTrades(ctx, "binance", "buy")
	m.IncTrades(ctx, "gemini", "sell")
	m.AddTradeVolume(ctx, 1250.5)
	m.AddTradeVolume(ctx, 100)

	metrics := collect(t, reader)

	volSum, ok := metrics[MetricTradeVolumeTotal].Data.(metricdata.Sum[float64])
	require.True(t, ok)
	var volume float64
	for _, dp := range volSum.DataPoints {
		volume += dp.Value
	}
	assert.InDelta(t, 1350.5, volume, 1e-9)

	tradeSum, ok := metrics[MetricTradesTotal].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var trades int64
	for _, dp := range tradeSum.DataPoints {
		trades += dp.Value
	}
	assert.Equal(t, int64(2), trades)
}

func TestInstrumentsSafeBeforeInit(t *testing.T) {
	ctx := context.Background()
	m := &MetricsHolder{}
	assert.NotPanics(t, func() {
		m.IncTrades(ctx, "binance", "buy")
		m.AddTradeVolume(ctx, 10)
		m.IncFatalErrors(ctx)
		m.ObservePollLatency(ctx, 0.1)
	})
}
