package fcf

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"autotrageur/internal/core"
	"autotrageur/pkg/telemetry"
)

// lowBalanceFactor pads the required base so warnings fire before the
// sell venue actually runs dry mid-ladder.
var lowBalanceFactor = decimal.NewFromFloat(1.05)

// BalanceChecker watches whether each direction's sell venue still holds
// enough base asset to mirror a full buy of the opposite venue's quote
// balance. On the transition from healthy to low it alerts immediately
// and schedules an hourly reminder; the reminder is cancelled once the
// inventory recovers.
type BalanceChecker struct {
	trader1 core.Trader
	trader2 core.Trader
	alerter core.Alerter
	logger  core.ILogger

	cron *cron.Cron

	mu        sync.Mutex
	messages  []string
	entry     cron.EntryID
	scheduled bool
}

func NewBalanceChecker(t1, t2 core.Trader, alerter core.Alerter, logger core.ILogger) *BalanceChecker {
	return &BalanceChecker{
		trader1: t1,
		trader2: t2,
		alerter: alerter,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start launches the reminder scheduler. Stop must be called on shutdown.
func (c *BalanceChecker) Start() { c.cron.Start() }

// Stop halts the scheduler and waits for an in-flight reminder.
func (c *BalanceChecker) Stop() { <-c.cron.Stop().Done() }

// Check evaluates both directions against one poll's executable buy
// prices. Balances were refreshed at the top of the poll, so reads here
// are cheap.
func (c *BalanceChecker) Check(ctx context.Context, opp *SpreadOpportunity) {
	var msgs []string
	// Buying on trader2 sells on trader1, and vice versa.
	if m := c.directionShortfall(c.trader2, c.trader1, opp.E2Buy); m != "" {
		msgs = append(msgs, m)
	}
	if m := c.directionShortfall(c.trader1, c.trader2, opp.E1Buy); m != "" {
		msgs = append(msgs, m)
	}

	c.mu.Lock()
	wasLow := c.scheduled
	c.messages = msgs
	if len(msgs) > 0 && !c.scheduled {
		if id, err := c.cron.AddFunc("@hourly", c.remind); err == nil {
			c.entry = id
			c.scheduled = true
		} else {
			c.logger.Error("schedule low balance reminder", "error", err)
		}
	} else if len(msgs) == 0 && c.scheduled {
		c.cron.Remove(c.entry)
		c.scheduled = false
	}
	c.mu.Unlock()

	if len(msgs) > 0 && !wasLow {
		c.notify(ctx, msgs)
		// A low reading can be staleness; re-read before the next poll
		// trusts it.
		if err := c.trader1.UpdateWalletBalances(ctx); err != nil {
			c.logger.Warn("refresh balances after low reading", "exchange", c.trader1.Name(), "error", err)
		}
		if err := c.trader2.UpdateWalletBalances(ctx); err != nil {
			c.logger.Warn("refresh balances after low reading", "exchange", c.trader2.Name(), "error", err)
		}
	}
}

// directionShortfall reports the warning line for one direction, or ""
// when the sell venue can cover a full buy.
func (c *BalanceChecker) directionShortfall(buyT, sellT core.Trader, buyPrice decimal.Decimal) string {
	if buyPrice.Sign() <= 0 {
		return ""
	}
	requiredBase := buyT.QuoteBalance().Div(buyPrice)
	low := requiredBase.Mul(lowBalanceFactor).GreaterThan(sellT.BaseBalance())
	telemetry.GetGlobalMetrics().SetLowBalance(sellT.Name(), low)
	if !low {
		return ""
	}
	return fmt.Sprintf("%s holds %s %s, below the %s needed to mirror %s's buying power",
		sellT.Name(), sellT.BaseBalance().String(), sellT.Base(),
		requiredBase.StringFixed(8), buyT.Name())
}

func (c *BalanceChecker) remind() {
	c.mu.Lock()
	msgs := append([]string(nil), c.messages...)
	c.mu.Unlock()
	if len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.notify(ctx, msgs)
}

func (c *BalanceChecker) notify(ctx context.Context, msgs []string) {
	c.logger.Warn("sell-side base inventory low", "directions", len(msgs))
	c.alerter.Notify(ctx, core.AlertPayload{
		Level:     core.AlertWarning,
		Title:     "Low base inventory",
		Message:   strings.Join(msgs, "\n"),
		Timestamp: time.Now(),
	})
}
