package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autotrageur/internal/infrastructure/metrics"
	"autotrageur/internal/logging"
	"autotrageur/internal/run"
	"autotrageur/pkg/cli"
	"autotrageur/pkg/telemetry"
)

var (
	keyfileFlag  = flag.String("keyfile", "", "Path to the exchange credentials file")
	configFlag   = flag.String("config", "", "Path to the run configuration file (fresh run)")
	resumeIDFlag = flag.String("resume-id", "", "Checkpoint id to resume from (resumed run)")
	dbConfigFlag = flag.String("dbconfig", "", "Path to the database configuration file")
	logLevelFlag = flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	metricsPort  = flag.Int("metrics-port", 9090, "Prometheus scrape port, 0 to disable")
)

func main() {
	flag.Parse()
	os.Exit(realMain())
}

func realMain() int {
	logger, err := logging.NewZapLogger(*logLevelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := validateFlags(); err != nil {
		logger.Error("invalid arguments", "error", err)
		flag.Usage()
		return 2
	}

	tel, err := telemetry.Setup("autotrageur")
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	if *metricsPort > 0 {
		metricsSrv := metrics.NewServer(*metricsPort, logger)
		metricsSrv.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Stop(stopCtx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := run.Setup(ctx, run.Options{
		KeyfilePath:  *keyfileFlag,
		DBConfigPath: *dbConfigFlag,
		ConfigPath:   *configFlag,
		ResumeID:     *resumeIDFlag,
	}, logger)
	if err != nil {
		logger.Error("setup failed", "error", err)
		return 1
	}
	defer cleanup()

	if err := runner.Run(ctx); err != nil {
		logger.Error("run terminated", "error", err)
		return 1
	}
	return 0
}

func validateFlags() error {
	if err := cli.ValidateConfigPath("keyfile", *keyfileFlag); err != nil {
		return err
	}
	if err := cli.ValidateConfigPath("dbconfig", *dbConfigFlag); err != nil {
		return err
	}
	switch {
	case *configFlag == "" && *resumeIDFlag == "":
		return errors.New("one of -config or -resume-id is required")
	case *configFlag != "" && *resumeIDFlag != "":
		return errors.New("-config and -resume-id are mutually exclusive")
	case *configFlag != "":
		return cli.ValidateConfigPath("config", *configFlag)
	default:
		return cli.ValidateResumeID(*resumeIDFlag)
	}
}
