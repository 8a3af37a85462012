package run

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"autotrageur/internal/alert"
	"autotrageur/internal/checkpoint"
	"autotrageur/internal/config"
	"autotrageur/internal/core"
	"autotrageur/internal/exchange"
	"autotrageur/internal/executor"
	"autotrageur/internal/forex"
	"autotrageur/internal/persist"
	"autotrageur/internal/stats"
	"autotrageur/internal/strategy/fcf"
	"autotrageur/internal/trader"
	"autotrageur/pkg/concurrency"
)

// Options selects between a fresh run (ConfigPath set) and a resumed run
// (ResumeID set).
type Options struct {
	KeyfilePath  string
	DBConfigPath string
	ConfigPath   string
	ResumeID     string
}

// Setup wires a complete runner from config files or a stored
// checkpoint. The returned cleanup closes the store and the alert pool.
func Setup(ctx context.Context, opts Options, logger core.ILogger) (*Runner, func(), error) {
	dbCfg, err := config.LoadDBConfig(opts.DBConfigPath)
	if err != nil {
		return nil, nil, err
	}
	store := persist.NewSQLiteStore(dbCfg.Path, logger)
	if err := store.Start(ctx); err != nil {
		return nil, nil, err
	}

	var (
		cfg *config.Config
		cp  *checkpoint.Checkpoint
	)
	if opts.ResumeID != "" {
		cp, err = loadCheckpoint(ctx, store, opts.ResumeID)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		cfg = cp.Config
		logger.Info("resuming from checkpoint",
			"resume_id", opts.ResumeID, "config_id", cfg.ID)
	} else {
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}

	keyfile, err := config.LoadKeyfile(opts.KeyfilePath)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	forexProvider := forex.NewAPIProvider(logger, time.Hour)

	trader1, dryRun1, err := buildTrader(ctx, cfg, cfg.Exchange1, cfg.Exchange1Pair,
		cfg.DryRunE1Base, cfg.DryRunE1Quote, keyfile, forexProvider, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	trader2, dryRun2, err := buildTrader(ctx, cfg, cfg.Exchange2, cfg.Exchange2Pair,
		cfg.DryRunE2Base, cfg.DryRunE2Quote, keyfile, forexProvider, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "alerts"}, logger)
	alerter := alert.NewManager(logger, pool)
	if cfg.EmailCfgPath != "" {
		emailCfg, err := config.LoadEmailConfig(cfg.EmailCfgPath)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		alerter.AddChannel(alert.NewEmailChannel(emailCfg))
	}
	if cfg.TwilioCfgPath != "" {
		twilioCfg, err := config.LoadTwilioConfig(cfg.TwilioCfgPath)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		alerter.AddChannel(alert.NewTwilioChannel(twilioCfg, logger))
	}

	strategy := fcf.NewStrategy(trader1, trader2, fcf.Config{
		VolMin:       decimal.NewFromFloat(cfg.VolMin),
		SpreadMin:    decimal.NewFromFloat(cfg.SpreadMin),
		MaxTradeSize: decimal.NewFromFloat(cfg.MaxTradeSize),
	}, decimal.NewFromFloat(cfg.HToE1Max), decimal.NewFromFloat(cfg.HToE2Max), logger)

	balanceChecker := fcf.NewBalanceChecker(trader1, trader2, alerter, logger)
	strategy.SetBalanceChecker(balanceChecker)

	traders := []core.Trader{trader1, trader2}
	var tracker *stats.StatTracker
	if cp != nil {
		strategy.Restore(cp.StrategyState)
		tracker = cp.StatTracker
		tracker.Resume(traders)
	} else {
		tracker = stats.New(uuid.NewString(), time.Now().Unix(), trader1, trader2)
	}

	exec := executor.New(strategy, store, alerter, tracker, cfg.DryRun, logger)

	runner := NewRunner(cfg, store, alerter, strategy, exec, tracker, traders, logger)
	runner.SetBalanceChecker(balanceChecker)
	if cfg.DryRun {
		runner.SetDryRunExchanges([]*trader.DryRunExchange{dryRun1, dryRun2})
	}

	cleanup := func() {
		pool.Stop()
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}
	return runner, cleanup, nil
}

// buildTrader constructs and connects one venue's trader. Missing
// credentials are tolerated in dry-run mode since no signed endpoints
// are hit.
func buildTrader(ctx context.Context, cfg *config.Config, exchangeName, pair string,
	seedBase, seedQuote float64, keyfile config.Keyfile,
	provider forex.RateProvider, logger core.ILogger) (*trader.Trader, *trader.DryRunExchange, error) {

	base, quote, err := splitPair(pair)
	if err != nil {
		return nil, nil, err
	}

	keys, err := keyfile.Keys(exchangeName)
	if err != nil && !cfg.DryRun {
		return nil, nil, err
	}

	client, err := exchange.New(exchangeName, base, quote, keys, logger)
	if err != nil {
		return nil, nil, err
	}

	t := trader.New(client, base, quote, decimal.NewFromFloat(cfg.Slippage), provider, logger)

	var dryRun *trader.DryRunExchange
	if cfg.DryRun {
		dryRun = t.EnableDryRun(decimal.NewFromFloat(seedBase), decimal.NewFromFloat(seedQuote))
	}

	if cfg.UseTestAPI {
		if err := t.ConnectTestAPI(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to connect %s test endpoint: %w", exchangeName, err)
		}
	}
	if err := t.LoadMarkets(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load %s markets: %w", exchangeName, err)
	}
	if err := t.UpdateWalletBalances(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %s balances: %w", exchangeName, err)
	}

	startDepthStream(ctx, client, cfg.UseTestAPI)
	return t, dryRun, nil
}

// startDepthStream begins the venue's live book feed when the adapter
// offers one. Sandbox endpoints skip it since the stream URLs point at
// production.
func startDepthStream(ctx context.Context, client exchange.Client, useTestAPI bool) {
	if useTestAPI {
		return
	}
	if ds, ok := client.(exchange.DepthStreamer); ok {
		ds.StartDepthStream(ctx)
	}
}

func splitPair(pair string) (string, string, error) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed market symbol %q, want BASE/QUOTE", pair)
	}
	return parts[0], parts[1], nil
}

// loadCheckpoint fetches and decodes a stored checkpoint blob.
func loadCheckpoint(ctx context.Context, store core.Store, resumeID string) (*checkpoint.Checkpoint, error) {
	rows, err := store.Query(ctx, "SELECT state FROM fcf_state WHERE id = ?", resumeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no checkpoint found for resume id %s", resumeID)
	}
	blob, ok := rows[0]["state"].(string)
	if !ok {
		return nil, fmt.Errorf("checkpoint blob for %s has unexpected column type", resumeID)
	}
	return checkpoint.Decode([]byte(blob))
}
