// Polymercado — a read-only research platform for Polymarket.
//
// The process ingests public market data (Gamma metadata, data-API taker
// trades and open interest, CLOB orderbooks over REST and WebSocket),
// persists normalized views in Postgres, and emits trading signals:
// large taker trades, large trades from new or dormant wallets, and
// depth-aware buy-both arbitrage. An alert dispatcher routes signals to
// log, Slack, Telegram, or email with per-channel dedupe.
//
//	cmd/polymercado       — entry point: config, wiring, scheduler, shutdown
//	internal/config       — layered settings (defaults, YAML, DB overrides, env)
//	internal/httpx        — rate-paced REST executor shared by the upstreams
//	internal/gamma        — events and tags sync from the Gamma API
//	internal/dataapi      — trades, open interest, positions from the data API
//	internal/clob         — orderbook REST poller and WebSocket consumer
//	internal/book         — in-memory orderbook cache
//	internal/universe     — tracked-market selection
//	internal/signals      — trade and arbitrage signal engines
//	internal/alerts       — alert routing, dedupe, channel drivers
//	internal/quality      — periodic data sanity checks
//	internal/scheduler    — interval jobs with overlap suppression
//	internal/store        — Postgres persistence and migrations
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polymercado/internal/alerts"
	"polymercado/internal/book"
	"polymercado/internal/clob"
	"polymercado/internal/config"
	"polymercado/internal/dataapi"
	"polymercado/internal/gamma"
	"polymercado/internal/httpx"
	"polymercado/internal/metrics"
	"polymercado/internal/quality"
	"polymercado/internal/scheduler"
	"polymercado/internal/signals"
	"polymercado/internal/store"
	"polymercado/internal/universe"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PM_CONFIG"); p != "" {
		cfgPath = p
	}

	// First pass without DB overrides: enough to reach the database.
	cfg, err := config.Load(cfgPath, nil)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	logger := buildLogger(cfg)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Second pass with the app_config overrides merged in.
	overrides, err := st.AppConfig(ctx)
	if err != nil {
		logger.Error("failed to load app config", "error", err)
		os.Exit(1)
	}
	if cfg, err = config.Load(cfgPath, overrides); err != nil {
		logger.Error("failed to reload config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger = buildLogger(cfg)

	httpOpts := httpx.Options{
		Timeout:     cfg.HTTPTimeout(),
		Concurrency: cfg.HTTPMaxConcurrency,
	}
	gammaHTTP := httpx.New("gamma", cfg.GammaBaseURL, httpOpts, logger)
	dataHTTP := httpx.New("data_api", cfg.DataAPIBaseURL, httpOpts, logger)
	clobHTTP := httpx.New("clob", cfg.CLOBBaseURL, httpOpts, logger)

	cache := book.NewCache()
	uni := universe.New(st, cfg, logger)

	gammaSync := gamma.NewSyncer(gammaHTTP, st, cfg, logger)
	dataSync := dataapi.NewSyncer(dataHTTP, st, uni, cfg, logger)
	clobClient := clob.NewClient(clobHTTP, logger)
	poller := clob.NewPoller(clobClient, cache, st, uni, cfg, logger)

	tradeEngine := signals.NewTradeEngine(st, cfg, logger)
	arbEngine := signals.NewArbEngine(st, cache, uni, cfg, logger)
	dispatcher := alerts.NewDispatcher(st, alerts.BuildChannels(cfg, logger), nil, cfg, logger)
	checker := quality.NewChecker(st, cache, uni, cfg, logger)

	var consumer *clob.Consumer
	if cfg.CLOBWSEnabled {
		consumer = clob.NewConsumer(clobClient, cache, uni, cfg, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("websocket consumer stopped", "error", err)
			}
		}()
	}

	sched := scheduler.New(st, logger)
	registerJobs(sched, cfg, st, uni, gammaSync, dataSync, poller, tradeEngine, arbEngine, dispatcher, checker, consumer)

	srv := metrics.NewServer(cfg.MetricsAddr, sched, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("polymercado started",
		"max_tracked_markets", cfg.MaxTrackedMarkets,
		"ws_enabled", cfg.CLOBWSEnabled,
		"alerts_enabled", cfg.AlertsEnabled,
		"metrics_addr", cfg.MetricsAddr,
	)

	if cfg.SchedulerEnabled {
		sched.Start(ctx) // blocks until shutdown
	} else {
		logger.Warn("scheduler disabled, running idle")
		<-ctx.Done()
	}

	logger.Info("shutting down")
	if err := srv.Stop(); err != nil {
		logger.Error("failed to stop metrics server", "error", err)
	}
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Settings,
	st *store.Store,
	uni *universe.Universe,
	gammaSync *gamma.Syncer,
	dataSync *dataapi.Syncer,
	poller *clob.Poller,
	tradeEngine *signals.TradeEngine,
	arbEngine *signals.ArbEngine,
	dispatcher *alerts.Dispatcher,
	checker *quality.Checker,
	consumer *clob.Consumer,
) {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }

	sched.Register(scheduler.Job{
		Name:     "sync_gamma_events",
		Interval: seconds(cfg.SyncGammaEventsIntervalSeconds),
		Run:      dropCount(gammaSync.SyncEvents),
	})
	sched.Register(scheduler.Job{
		Name:     "sync_tag_metadata",
		Interval: seconds(cfg.SyncTagsIntervalSeconds),
		Run:      dropCount(gammaSync.SyncTags),
	})
	sched.Register(scheduler.Job{
		Name:     "sync_universe",
		Interval: seconds(cfg.SyncUniverseIntervalSeconds),
		Run: func(ctx context.Context) error {
			if _, err := uni.Refresh(ctx); err != nil {
				return err
			}
			if consumer != nil {
				return consumer.Reconcile(ctx)
			}
			return nil
		},
	})
	sched.Register(scheduler.Job{
		Name:     "sync_large_trades",
		Interval: seconds(cfg.SyncTradesIntervalSeconds),
		Run:      dropCount(dataSync.SyncTrades),
	})
	sched.Register(scheduler.Job{
		Name:     "sync_open_interest",
		Interval: seconds(cfg.SyncOIIntervalSeconds),
		Run:      dropCount(dataSync.SyncOpenInterest),
	})
	if cfg.WalletPositionsEnabled {
		sched.Register(scheduler.Job{
			Name:     "sync_positions",
			Interval: seconds(cfg.SyncPositionsIntervalSeconds),
			Run:      dropCount(dataSync.SyncPositions),
		})
	}
	sched.Register(scheduler.Job{
		Name:     "sync_orderbooks",
		Interval: seconds(cfg.OrderbookSnapshotIntervalSeconds),
		Run:      dropCount(poller.Run),
	})
	sched.Register(scheduler.Job{
		Name:     "run_signal_engine_trades",
		Interval: seconds(cfg.SignalEngineIntervalSeconds),
		Run:      dropCount(tradeEngine.Run),
	})
	sched.Register(scheduler.Job{
		Name:     "run_signal_engine_arb",
		Interval: seconds(cfg.SignalEngineIntervalSeconds),
		Run:      dropCount(arbEngine.Run),
	})
	if cfg.AlertsEnabled {
		sched.Register(scheduler.Job{
			Name:     "alert_dispatcher",
			Interval: seconds(cfg.AlertDispatchIntervalSeconds),
			Run:      dropCount(dispatcher.Run),
		})
	}
	if cfg.DataQualityEnabled {
		sched.Register(scheduler.Job{
			Name:     "data_quality",
			Interval: seconds(cfg.DataQualityIntervalSeconds),
			Run:      dropCount(checker.Run),
		})
	}
	sched.Register(scheduler.Job{
		Name:     "retention",
		Interval: seconds(cfg.RetentionIntervalSeconds),
		Run: func(ctx context.Context) error {
			now := time.Now().UTC()
			if _, err := st.PruneMetrics(ctx, now, cfg.RetentionMinuteDays, cfg.RetentionHourlyDays); err != nil {
				return err
			}
			_, err := st.PruneQualityIssues(ctx, now.Add(-time.Duration(cfg.RetentionMinuteDays)*24*time.Hour))
			return err
		},
	})
}

// dropCount adapts the (count, error) job signature to the scheduler.
func dropCount(run func(ctx context.Context) (int, error)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := run(ctx)
		return err
	}
}

func buildLogger(cfg *config.Settings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
