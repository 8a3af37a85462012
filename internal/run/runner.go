// Package run orchestrates a bot session: setup persistence, poll the
// strategy, hand opportunities to the executor, account retries and tear
// down with a checkpoint on fatal errors.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"autotrageur/internal/checkpoint"
	"autotrageur/internal/config"
	"autotrageur/internal/core"
	"autotrageur/internal/stats"
	"autotrageur/internal/strategy/fcf"
	"autotrageur/internal/trader"
	apperrors "autotrageur/pkg/errors"
	"autotrageur/pkg/retry"
	"autotrageur/pkg/telemetry"
)

// retryBudget is the starting balance of the run-level retry counter.
// Each retryable poll failure spends one unit, each successful poll
// refills one. Draining the budget fails the run.
const retryBudget = 10

// storePingSchedule keeps the store connection warm between quiet polls.
const storePingSchedule = "@every 4h"

type pollStrategy interface {
	Snapshot() *fcf.State
	PollOpportunity(ctx context.Context) (*fcf.TradeMetadata, error)
	TradeCompleted() bool
	LastOpportunity() *fcf.SpreadOpportunity
}

type tradeExecutor interface {
	ExecuteTrade(ctx context.Context, trade *fcf.TradeMetadata, snapshot *fcf.State) error
}

// Runner drives the poll/act/wait loop for one session.
type Runner struct {
	cfg      *config.Config
	store    core.Store
	alerter  core.Alerter
	strategy pollStrategy
	executor tradeExecutor
	tracker  *stats.StatTracker
	traders  []core.Trader
	logger   core.ILogger

	balance *fcf.BalanceChecker
	dryRuns []*trader.DryRunExchange

	counter      *retry.Counter
	cron         *cron.Cron
	sessionID    string
	sessionStart int64
}

func NewRunner(cfg *config.Config, store core.Store, alerter core.Alerter,
	strategy pollStrategy, exec tradeExecutor, tracker *stats.StatTracker,
	traders []core.Trader, logger core.ILogger) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    store,
		alerter:  alerter,
		strategy: strategy,
		executor: exec,
		tracker:  tracker,
		traders:  traders,
		logger:   logger,
		counter:  retry.NewCounter(retryBudget),
	}
}

// SetBalanceChecker attaches the low-inventory watchdog; its cron starts
// and stops with the run.
func (r *Runner) SetBalanceChecker(bc *fcf.BalanceChecker) { r.balance = bc }

// SetDryRunExchanges attaches the simulated wallets whose summaries are
// logged on clean dry-run termination.
func (r *Runner) SetDryRunExchanges(exchanges []*trader.DryRunExchange) { r.dryRuns = exchanges }

// Run executes the poll loop until the context is cancelled or a fatal
// error tears the session down. A cancelled dry run terminates cleanly
// with a summary; a cancelled live run is escalated to fatal because a
// human should inspect open positions.
func (r *Runner) Run(ctx context.Context) error {
	r.sessionID = uuid.NewString()
	r.sessionStart = time.Now().Unix()
	r.persistConfig()
	r.persistSession(nil)
	if err := r.store.CommitAll(ctx); err != nil {
		return r.fatal(fmt.Errorf("failed to persist session start: %w", err))
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(storePingSchedule, r.pingStore); err != nil {
		return r.fatal(err)
	}
	r.cron.Start()
	defer func() { <-r.cron.Stop().Done() }()

	if r.balance != nil {
		r.balance.Start()
		defer r.balance.Stop()
	}

	r.logger.Info("run loop started",
		"session_id", r.sessionID,
		"config_id", r.cfg.ID,
		"dry_run", r.cfg.DryRun)

	for {
		if ctx.Err() != nil {
			return r.interrupted()
		}
		if err := r.pollOnce(ctx); err != nil {
			return r.fatal(err)
		}

		wait := time.Duration(r.cfg.PollWaitDefault) * time.Second
		if !r.strategy.TradeCompleted() {
			wait = time.Duration(r.cfg.PollWaitShort) * time.Second
		}
		select {
		case <-ctx.Done():
			return r.interrupted()
		case <-time.After(wait):
		}
	}
}

// pollOnce runs one poll/act cycle. A nil return means the loop should
// keep going; an error is fatal for the run.
func (r *Runner) pollOnce(ctx context.Context) error {
	start := time.Now()
	snapshot := r.strategy.Snapshot()

	trade, err := r.strategy.PollOpportunity(ctx)
	if err != nil {
		return r.handlePollError(ctx, err)
	}

	r.counter.Increment()
	telemetry.GetGlobalMetrics().SetRetryBudget(int64(r.counter.Balance()))

	r.persistMeasures()
	r.persistForexRates()

	if trade != nil {
		if err := r.executor.ExecuteTrade(ctx, trade, snapshot); err != nil {
			return err
		}
	}

	if err := r.store.CommitAll(ctx); err != nil {
		return fmt.Errorf("failed to persist poll records: %w", err)
	}
	telemetry.GetGlobalMetrics().ObservePollLatency(ctx, time.Since(start).Seconds())
	return nil
}

// handlePollError sorts a poll failure into continue, spend-retry or
// fatal.
func (r *Runner) handlePollError(ctx context.Context, err error) error {
	var insufficient *fcf.InsufficientCryptoBalanceError
	if errors.As(err, &insufficient) {
		r.logger.Error("trade abandoned", "error", err)
		r.alerter.Notify(ctx, core.AlertPayload{
			Level:     core.AlertWarning,
			Title:     "Insufficient crypto balance",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return nil
	}

	if apperrors.IsRetryable(err) {
		r.counter.Decrement()
		telemetry.GetGlobalMetrics().SetRetryBudget(int64(r.counter.Balance()))
		r.logger.Warn("retryable poll failure",
			"error", err, "retry_budget", r.counter.Balance())
		if r.counter.Drained() {
			return fmt.Errorf("retry budget exhausted: %w", err)
		}
		return nil
	}

	return err
}

// interrupted handles context cancellation observed between polls.
func (r *Runner) interrupted() error {
	if !r.cfg.DryRun {
		return r.fatal(errors.New("live run interrupted"))
	}

	r.logger.Info("dry run interrupted, writing summary")
	r.tracker.CaptureCloseBalances()
	r.tracker.LogSummary(r.logger)
	for _, dr := range r.dryRuns {
		r.logger.Info("dry run exchange summary", "summary", dr.Summary())
	}

	ctx := context.Background()
	r.persistSession(r.tracker)
	if err := r.store.CommitAll(ctx); err != nil {
		r.logger.Error("failed to persist session stop", "error", err)
	}
	return nil
}

// fatal tears the session down: checkpoint under a fresh resume id,
// session stop stamp, fatal counter, alert fan-out, then the original
// error propagates to the caller.
func (r *Runner) fatal(err error) error {
	ctx := context.Background()
	r.tracker.RecordFatal()
	r.tracker.CaptureCloseBalances()

	liveTraders := r.tracker.Suspend()
	blob, encErr := checkpoint.Encode(&checkpoint.Checkpoint{
		Config:        r.cfg,
		StrategyState: r.strategy.Snapshot(),
		StatTracker:   r.tracker,
	})
	r.tracker.Resume(liveTraders)

	if encErr != nil {
		r.logger.Error("failed to encode final checkpoint", "error", encErr)
	} else {
		resumeID := uuid.NewString()
		r.store.InsertRow("fcf_state", map[string]any{
			"id":                                 resumeID,
			"autotrageur_config_id":              r.cfg.ID,
			"autotrageur_config_start_timestamp": r.cfg.StartTimestamp,
			"state":                              blob,
		}, []string{"id"})
		r.logger.Error("run failed, checkpoint written",
			"resume_id", resumeID, "error", err)
	}

	r.persistSession(r.tracker)
	if cErr := r.store.CommitAll(ctx); cErr != nil {
		r.logger.Error("failed to persist teardown records", "error", cErr)
	}

	if aErr := r.alerter.AlertAll(ctx, core.AlertPayload{
		Level:     core.AlertCritical,
		Title:     "Bot terminated",
		Message:   err.Error(),
		Timestamp: time.Now(),
		Fields: map[string]string{
			"session_id": r.sessionID,
			"config_id":  r.cfg.ID,
		},
	}); aErr != nil {
		r.logger.Error("alert channels failed during teardown", "error", aErr)
	}

	return err
}

// persistSession upserts the session row; a non-nil tracker marks the
// session as stopped now.
func (r *Runner) persistSession(stopped *stats.StatTracker) {
	row := map[string]any{
		"id":                                 r.sessionID,
		"autotrageur_config_id":              r.cfg.ID,
		"autotrageur_config_start_timestamp": r.cfg.StartTimestamp,
		"start_timestamp":                    r.sessionStart,
		"stop_timestamp":                     nil,
	}
	if stopped != nil {
		row["stop_timestamp"] = time.Now().Unix()
	}
	r.store.InsertRow("fcf_session", row, []string{"id"})
}

func (r *Runner) persistConfig() {
	r.store.InsertRow("fcf_autotrageur_config", map[string]any{
		"id":              r.cfg.ID,
		"start_timestamp": r.cfg.StartTimestamp,
		"config":          r.cfg.String(),
	}, []string{"id"})
}

// persistMeasures buffers this poll's spread observation.
func (r *Runner) persistMeasures() {
	opp := r.strategy.LastOpportunity()
	if opp == nil {
		return
	}
	r.store.InsertRow("fcf_measures", map[string]any{
		"id":         uuid.NewString(),
		"session_id": r.sessionID,
		"e1_spread":  opp.E1Spread.String(),
		"e2_spread":  opp.E2Spread.String(),
		"e1_buy":     opp.E1Buy.String(),
		"e1_sell":    opp.E1Sell.String(),
		"e2_buy":     opp.E2Buy.String(),
		"e2_sell":    opp.E2Sell.String(),
		"time":       time.Now().Unix(),
	}, []string{"id"})
}

// persistForexRates records each trader's current conversion rate. Rate
// ids are stable between refreshes so repeat polls dedupe on the key.
func (r *Runner) persistForexRates() {
	for _, t := range r.traders {
		if !t.ConversionNeeded() {
			continue
		}
		id := t.ForexRateID()
		if id == "" {
			continue
		}
		r.store.InsertRow("forex_rate", map[string]any{
			"id":              id,
			"quote":           t.Quote(),
			"rate":            t.ForexRatio().String(),
			"local_timestamp": time.Now().Unix(),
		}, []string{"id"})
	}
}

func (r *Runner) pingStore() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.Ping(ctx); err != nil {
		r.logger.Warn("store keepalive ping failed", "error", err)
	}
}
