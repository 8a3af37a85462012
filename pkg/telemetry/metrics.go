package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSpread           = "autotrageur_spread_percent"
	MetricTradesTotal      = "autotrageur_trades_total"
	MetricTradeVolumeTotal = "autotrageur_trade_volume_usd_total"
	MetricFatalErrorsTotal = "autotrageur_fatal_errors_total"
	MetricPollLatency      = "autotrageur_poll_duration_seconds"
	MetricRetryBudget      = "autotrageur_retry_budget"
	MetricLowBalance       = "autotrageur_low_balance"
)

// MetricsHolder holds initialized instruments.
type MetricsHolder struct {
	TradesTotal      metric.Int64Counter
	TradeVolumeTotal metric.Float64Counter
	FatalErrorsTotal metric.Int64Counter
	PollLatency      metric.Float64Histogram
	Spread           metric.Float64ObservableGauge
	RetryBudget      metric.Int64ObservableGauge
	LowBalance       metric.Int64ObservableGauge

	// State for observable gauges
	mu            sync.RWMutex
	spreadMap     map[string]float64
	retryBudget   int64
	lowBalanceMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			spreadMap:     make(map[string]float64),
			lowBalanceMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.TradesTotal, err = meter.Int64Counter(MetricTradesTotal,
		metric.WithDescription("Total market orders executed"))
	if err != nil {
		return err
	}

	m.TradeVolumeTotal, err = meter.Float64Counter(MetricTradeVolumeTotal,
		metric.WithDescription("Cumulative USD notional traded"))
	if err != nil {
		return err
	}

	m.FatalErrorsTotal, err = meter.Int64Counter(MetricFatalErrorsTotal,
		metric.WithDescription("Total fatal errors terminating a run"))
	if err != nil {
		return err
	}

	m.PollLatency, err = meter.Float64Histogram(MetricPollLatency,
		metric.WithDescription("Duration of one poll cycle"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.Spread, err = meter.Float64ObservableGauge(MetricSpread,
		metric.WithDescription("Observed fee-adjusted spread per direction"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for direction, val := range m.spreadMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("direction", direction)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RetryBudget, err = meter.Int64ObservableGauge(MetricRetryBudget,
		metric.WithDescription("Remaining run-loop retry budget"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.retryBudget)
			return nil
		}))
	if err != nil {
		return err
	}

	m.LowBalance, err = meter.Int64ObservableGauge(MetricLowBalance,
		metric.WithDescription("Low sell-side inventory state per exchange (1=low)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for exchange, val := range m.lowBalanceMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("exchange", exchange)))
			}
			return nil
		}))
	return err
}

// IncTrades records one executed market order. Safe before InitMetrics.
func (m *MetricsHolder) IncTrades(ctx context.Context, exchange string, side string) {
	if m.TradesTotal == nil {
		return
	}
	m.TradesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("exchange", exchange),
		attribute.String("side", side)))
}

// AddTradeVolume records executed USD notional. Safe before InitMetrics.
func (m *MetricsHolder) AddTradeVolume(ctx context.Context, usd float64) {
	if m.TradeVolumeTotal == nil {
		return
	}
	m.TradeVolumeTotal.Add(ctx, usd)
}

// IncFatalErrors records one run-terminating error. Safe before InitMetrics.
func (m *MetricsHolder) IncFatalErrors(ctx context.Context) {
	if m.FatalErrorsTotal == nil {
		return
	}
	m.FatalErrorsTotal.Add(ctx, 1)
}

// ObservePollLatency records one poll cycle duration in seconds. Safe
// before InitMetrics.
func (m *MetricsHolder) ObservePollLatency(ctx context.Context, seconds float64) {
	if m.PollLatency == nil {
		return
	}
	m.PollLatency.Record(ctx, seconds)
}

// Helpers to update observable state

func (m *MetricsHolder) SetSpread(direction string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spreadMap[direction] = value
}

func (m *MetricsHolder) SetRetryBudget(balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryBudget = balance
}

func (m *MetricsHolder) SetLowBalance(exchange string, low bool) {
	val := int64(0)
	if low {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowBalanceMap[exchange] = val
}
