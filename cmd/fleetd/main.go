// Package main is the entry point for the fleet control plane daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/fleetd/internal/alerting"
	"github.com/quantfleet/fleetd/internal/api"
	"github.com/quantfleet/fleetd/internal/config"
	"github.com/quantfleet/fleetd/internal/dedup"
	"github.com/quantfleet/fleetd/internal/dispatch"
	"github.com/quantfleet/fleetd/internal/heartbeat"
	"github.com/quantfleet/fleetd/internal/metrics"
	"github.com/quantfleet/fleetd/internal/optimizer"
	"github.com/quantfleet/fleetd/internal/persistence"
	"github.com/quantfleet/fleetd/internal/revaluation"
	"github.com/quantfleet/fleetd/internal/scheduler"
	"github.com/quantfleet/fleetd/internal/stream"
	"github.com/quantfleet/fleetd/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`fleetd - Trading Fleet Control Plane

Usage:
  fleetd <command> [options]

Commands:
  run        Start the control plane daemon
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  fleetd run --config fleetd.yaml
  fleetd validate --config fleetd.yaml

Use "fleetd <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("fleetd version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "fleetd.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  API port: %d\n", cfg.Server.Port)
	fmt.Printf("  Store path: %s\n", cfg.Persistence.Path)
	fmt.Printf("  Revaluation cadence: %s\n", cfg.Cadence())
	fmt.Printf("  Optimizer min samples: %d\n", cfg.Optimizer.MinSamples)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "fleetd.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("fleetd starting",
		"version", Version,
		"port", cfg.Server.Port,
		"store", cfg.Persistence.Path,
	)

	repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer func() { _ = repo.Close() }()

	if err := repo.Migrate(ctx); err != nil {
		slog.Error("failed to migrate store", "err", err)
		os.Exit(1)
	}

	alerter := buildAlerter(cfg, logger)
	gate := dedup.NewGate()
	dispatcher := dispatch.NewDispatcher(logger)

	heartbeats := heartbeat.NewExecutor(
		heartbeat.Config{Timeout: cfg.HeartbeatTimeout()},
		repo, repo, gate,
		defaultChecker(repo),
		alerter, logger,
	)

	opt := optimizer.NewExecutor(
		optimizer.Config{
			MinSamples:   cfg.Optimizer.MinSamples,
			Timeout:      cfg.OptimizerTimeout(),
			HistoryLimit: cfg.Optimizer.HistoryLimit,
			HistoryCap:   cfg.Optimizer.HistoryCap,
		},
		repo, repo, repo, gate,
		defaultTuner(repo),
		alerter, logger,
	)

	revaluer := revaluation.NewRevaluer(repo, bootQuotes(ctx, repo, logger), dispatcher, logger)

	revalTick := func(tickCtx context.Context) error {
		err := revaluer.Run(tickCtx)
		if err != nil {
			_ = alerter.Alert(tickCtx, alerting.SeverityWarning, "Revaluation tick failed",
				"err", err.Error())
		}
		return err
	}

	sched := scheduler.New(scheduler.Config{Cadence: cfg.Cadence()}, logger)
	if err := sched.Start(revalTick); err != nil {
		slog.Error("failed to start scheduler", "err", err)
		os.Exit(1)
	}
	defer sched.Stop()

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
		}, logger)
		metricsSrv.RegisterHealthCheck("store", metrics.StoreCheck(repo, 2*time.Second))
		go func() {
			if err := metricsSrv.Start(); err != nil {
				slog.Error("metrics server failed", "err", err)
			}
		}()
	}

	streamHandler := stream.NewHandler(dispatcher, cfg.StreamKeepalive(), logger)

	apiSrv := api.NewServer(api.ServerConfig{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.ReadTimeout(),
		RatePerSecond:   cfg.Server.RateLimitPerSecond,
		RateBurst:       cfg.Server.RateLimitBurst,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	}, heartbeats, opt, streamHandler, repo, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- apiSrv.Start() }()

	if cfg.IsAlertEventEnabled(string(alerting.EventFleetStarted)) {
		_ = alerter.Alert(ctx, alerting.SeverityInfo, "fleet control plane started",
			"version", Version)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("control API server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	sched.Stop()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown error", "err", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics shutdown error", "err", err)
		}
	}

	if cfg.IsAlertEventEnabled(string(alerting.EventFleetStopped)) {
		_ = alerter.Alert(shutdownCtx, alerting.SeverityInfo, "fleet control plane stopped")
	}

	slog.Info("fleetd shutdown complete")
}

// buildAlerter assembles the alert fan-out from the configured channels.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	multi := alerting.NewMultiAlerter(logger)
	if !cfg.Alerting.Enabled {
		return multi
	}

	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		}
	}
	return multi
}

// defaultChecker verifies the trader is registered, active, and that its
// store row is reachable. Real deployments swap in a checker that probes
// the trader process itself.
func defaultChecker(registry persistence.TraderRegistry) heartbeat.Checker {
	return heartbeat.CheckerFunc(func(ctx context.Context, trader types.Trader) (string, error) {
		current, err := registry.GetTrader(ctx, trader.ID)
		if err != nil {
			return "", err
		}
		if current == nil {
			return "", types.ErrTraderNotFound
		}
		if !current.Active {
			return "", fmt.Errorf("trader %d is deactivated", trader.ID)
		}
		return fmt.Sprintf(`{"alive":true,"symbol":%q}`, current.Symbol), nil
	})
}

// defaultTuner summarizes the accumulated revaluation samples. The tuned
// parameters land in the execution record for the trader to pick up.
func defaultTuner(positions persistence.PositionStore) optimizer.Tuner {
	return optimizer.TunerFunc(func(ctx context.Context, trader types.Trader) (string, error) {
		count, err := positions.CountMarkSamples(ctx, trader.ID)
		if err != nil {
			return "", fmt.Errorf("count samples: %w", err)
		}
		return fmt.Sprintf(`{"samples":%d,"symbol":%q}`, count, trader.Symbol), nil
	})
}

// bootQuotes seeds the quote source from the open positions' current marks
// so the revaluer has a price for every tracked symbol from the first tick.
func bootQuotes(ctx context.Context, positions persistence.PositionStore, logger *slog.Logger) revaluation.QuoteSource {
	initial := make(map[string]decimal.Decimal)

	open, err := positions.GetOpenPositions(ctx)
	if err != nil {
		logger.Warn("could not seed quotes from open positions", "err", err)
	}
	for _, p := range open {
		if _, ok := initial[p.Symbol]; !ok && !p.MarkPrice.IsZero() {
			initial[p.Symbol] = p.MarkPrice
		}
	}

	return revaluation.NewRandomWalkQuotes(initial, decimal.NewFromFloat(0.25), time.Now().UnixNano())
}
