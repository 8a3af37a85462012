// Package alert delivers out-of-band notifications through email and phone.
package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"autotrageur/internal/core"
	"autotrageur/pkg/concurrency"
)

// Channel is a single notification transport.
type Channel interface {
	Send(ctx context.Context, payload core.AlertPayload) error
	Name() string
}

// AlertError aggregates failures from individual channels after every
// channel has been tried.
type AlertError struct {
	Failures map[string]error
}

func (e *AlertError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for name, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return "alert delivery failed: " + strings.Join(parts, "; ")
}

// Manager fans alerts out to the registered channels. It implements
// core.Alerter.
type Manager struct {
	channels []Channel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
	mu       sync.RWMutex
}

// NewManager creates an alert manager dispatching through the given pool.
func NewManager(logger core.ILogger, pool *concurrency.WorkerPool) *Manager {
	return &Manager{
		channels: make([]Channel, 0),
		pool:     pool,
		logger:   logger.WithField("component", "alert_manager"),
	}
}

// AddChannel registers a notification transport.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify dispatches asynchronously; delivery failures are logged, not
// returned. Used for trade summaries and warnings on the polling path.
func (m *Manager) Notify(ctx context.Context, payload core.AlertPayload) {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		c := ch
		_ = m.pool.Submit(func() {
			timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				m.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		})
	}
}

// AlertAll delivers synchronously through every channel and aggregates any
// failures into an AlertError. Used on fatal termination, where delivery
// matters more than latency.
func (m *Manager) AlertAll(ctx context.Context, payload core.AlertPayload) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	failures := make(map[string]error)
	for _, ch := range channels {
		timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := ch.Send(timeoutCtx, payload)
		cancel()
		if err != nil {
			m.logger.Error("Alert channel failed", "channel", ch.Name(), "error", err)
			failures[ch.Name()] = err
		}
	}

	if len(failures) > 0 {
		return &AlertError{Failures: failures}
	}
	return nil
}
