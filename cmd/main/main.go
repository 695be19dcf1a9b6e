package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"traffic-observer/src/analysis"
	"traffic-observer/src/cache"
	"traffic-observer/src/config"
	"traffic-observer/src/etl"
	"traffic-observer/src/interfaces"
	"traffic-observer/src/logger"
	"traffic-observer/src/metrics"
	"traffic-observer/src/server"
	"traffic-observer/src/service"
	"traffic-observer/src/source"
	"traffic-observer/src/storage"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	runETL := flag.Bool("etl", false, "run an incremental ETL pass at startup (one-shot with -serve=false)")
	rebuildView := flag.Bool("rebuild-view", false, "recreate the normalized view from current business rules and exit")
	serve := flag.Bool("serve", true, "serve the aggregation API")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.Name)

	// Setup metrics registry
	reg := metrics.NewRegistry()

	// Analytical store
	store, err := storage.NewAnalyticsStore(cfg.MConfig, appLogger)
	if err != nil {
		appLogger.Critical("Failed to init analytical store: %v", err)
		os.Exit(1)
	}
	if err := store.Initialize(); err != nil {
		appLogger.Critical("Failed to migrate analytical store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// The view is cheap to redefine, so every start applies the current
	// business rules. Rule fixes take effect retroactively here.
	if err := store.RebuildNormalizedView(cfg.Business); err != nil {
		appLogger.Critical("Failed to build normalized view: %v", err)
		os.Exit(1)
	}
	if *rebuildView && !*runETL {
		appLogger.Info("Normalized view rebuilt")
		return
	}

	// Result cache backend
	var cacheStore interfaces.ICacheStore
	switch cfg.Cache.Backend {
	case "redis":
		cacheStore, err = cache.NewRedisStore(cfg.Cache.RedisAddr)
		if err != nil {
			appLogger.Critical("Failed to connect cache backend: %v", err)
			os.Exit(1)
		}
	default:
		cacheStore = cache.NewMemoryStore(cfg.Cache.MaxEntries)
	}
	resultCache := cache.NewResultCache(cacheStore, time.Duration(cfg.Cache.TTLSeconds)*time.Second, reg, appLogger)
	defer resultCache.Close()

	// Query side
	engine := analysis.NewEngine(appLogger)
	svc := service.NewTrafficService(cfg.MConfig, store, engine, resultCache, reg, appLogger)
	srv := server.NewServer(cfg.MConfig, svc, resultCache, reg, appLogger)

	// One-shot ETL mode: extract, load, notify nobody, exit.
	if *runETL {
		extractor, err := source.NewPostgresExtractor(cfg.MConfig, appLogger)
		if err != nil {
			appLogger.Critical("Failed to connect source store: %v", err)
			os.Exit(1)
		}
		defer extractor.Close()

		normalizer, err := etl.NewNormalizer(cfg.Business, cfg.Outlier)
		if err != nil {
			appLogger.Critical("Invalid business rules: %v", err)
			os.Exit(1)
		}

		runner := etl.NewRunner(cfg.MConfig, extractor, store, normalizer, resultCache, nil, reg, appLogger)

		report, err := runner.RunETL(context.Background())
		if err != nil {
			appLogger.Critical("ETL failed: %v", err)
			os.Exit(1)
		}
		appLogger.Info("ETL done: %d loaded, %d rejected", report.RowsLoaded, report.RowsRejected)
		if !*serve {
			return
		}
	}

	if !*serve {
		return
	}

	// Serve mode: API plus periodic incremental loads pushing refresh events
	// to connected dashboards.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
			cancel()
		}
	}()

	go runPeriodicETL(ctx, cfg, store, resultCache, srv, reg, appLogger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down...")
		cancel()
	case <-ctx.Done():
	}
}

// -----------------------------------------------------------------------------

// runPeriodicETL drives incremental loads while the server runs. The source
// store is reconnected per cycle so a vendor-side restart never wedges the
// loop.
func runPeriodicETL(
	ctx context.Context,
	cfg *config.Config,
	store interfaces.IAnalyticsStore,
	resultCache *cache.ResultCache,
	notifier interfaces.IRefreshNotifier,
	reg *metrics.Registry,
	appLogger *logger.Logger,
) {
	interval := time.Duration(cfg.ETL.IntervalSec) * time.Second

	normalizer, err := etl.NewNormalizer(cfg.Business, cfg.Outlier)
	if err != nil {
		appLogger.Critical("Invalid business rules: %v", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		extractor, err := source.NewPostgresExtractor(cfg.MConfig, appLogger)
		if err != nil {
			appLogger.Error("Source store unreachable, retrying next cycle: %v", err)
		} else {
			runner := etl.NewRunner(cfg.MConfig, extractor, store, normalizer, resultCache, notifier, reg, appLogger)
			if _, err := runner.RunETL(ctx); err != nil {
				appLogger.Error("ETL cycle failed: %v", err)
			}
			extractor.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
