package etl

import (
	"context"
	"sync"
	"time"

	"traffic-observer/src/helpers"
	"traffic-observer/src/interfaces"
	"traffic-observer/src/logger"
	"traffic-observer/src/metrics"
	"traffic-observer/src/models"
)

// -----------------------------------------------------------------------------

// Runner orchestrates one ETL pass: refresh the store dimension, extract
// whatever is newer than the watermarks, validate, normalize, load with
// retries, then invalidate caches and notify listeners. A mutex enforces the
// single-writer discipline; concurrent RunETL calls serialize.
type Runner struct {
	Config     *models.MConfig
	Extractor  interfaces.IExtractor
	Store      interfaces.IAnalyticsStore
	Normalizer *Normalizer
	Loader     *Loader
	Cache      interfaces.IInvalidator
	Notifier   interfaces.IRefreshNotifier
	Metrics    *metrics.Registry
	Logger     *logger.Logger

	runMutex sync.Mutex
}

// -----------------------------------------------------------------------------

func NewRunner(
	cfg *models.MConfig,
	extractor interfaces.IExtractor,
	store interfaces.IAnalyticsStore,
	normalizer *Normalizer,
	cache interfaces.IInvalidator,
	notifier interfaces.IRefreshNotifier,
	reg *metrics.Registry,
	log *logger.Logger,
) *Runner {
	return &Runner{
		Config:     cfg,
		Extractor:  extractor,
		Store:      store,
		Normalizer: normalizer,
		Loader:     NewLoader(store, log),
		Cache:      cache,
		Notifier:   notifier,
		Metrics:    reg,
		Logger:     log,
	}
}

// -----------------------------------------------------------------------------

// RunETL executes one incremental pass and returns the merged load report.
// Row-level rejections are counted, never fatal; batch failures are retried
// with backoff and reported whole when retries are exhausted.
func (r *Runner) RunETL(ctx context.Context) (models.MLoadReport, error) {
	r.runMutex.Lock()
	defer r.runMutex.Unlock()

	started := time.Now()
	r.Metrics.ETLRuns.Inc()
	r.Logger.Info("ETL run starting")

	report, err := r.runOnce(ctx)
	if err != nil {
		r.Metrics.ETLFailures.Inc()
		r.Logger.Error("ETL run failed: %v", err)
		return report, err
	}

	// New data supersedes every cached result.
	if report.RowsLoaded > 0 {
		if r.Cache != nil {
			r.Cache.Invalidate(ctx)
		}
		if r.Notifier != nil {
			r.Notifier.NotifyRefresh(report)
		}
	}

	r.Logger.Info("ETL run finished in %s: %d loaded, %d rejected, watermark %s",
		time.Since(started).Round(time.Millisecond),
		report.RowsLoaded, report.RowsRejected,
		report.NewWatermark.Format(time.DateTime))
	return report, nil
}

// -----------------------------------------------------------------------------

func (r *Runner) runOnce(ctx context.Context) (models.MLoadReport, error) {
	var report models.MLoadReport
	retries := r.Config.ETL.MaxRetries

	// 1. Store dimension, refreshed wholesale every run.
	stores, err := r.Extractor.FetchStores(ctx)
	if err != nil {
		return report, helpers.NewLoadError("failed to fetch store dimension", err)
	}
	if err := r.Store.ReplaceStores(ctx, stores); err != nil {
		return report, helpers.NewLoadError("failed to refresh store dimension", err)
	}

	// 2. Traffic facts.
	trafficWM, err := r.Store.Watermark(ctx, TableTraffic)
	if err != nil {
		return report, helpers.NewLoadError("failed to read traffic watermark", err)
	}
	rawRows, err := r.Extractor.FetchTrafficSince(ctx, trafficWM)
	if err != nil {
		return report, helpers.NewLoadError("failed to extract traffic rows", err)
	}

	accepted, rejected := ValidateTraffic(rawRows)
	report.RowsRejected += len(rejected)
	for _, rej := range rejected {
		r.Logger.Warning("Dropped traffic row: %s", rej.Reason)
	}
	r.Metrics.RowsRejected.Add(float64(len(rejected)))

	normalized := r.Normalizer.Normalize(accepted)

	err = helpers.RetryWithBackoff(ctx, "traffic load", retries, time.Second, func() error {
		trafficReport, loadErr := r.Loader.LoadTraffic(ctx, normalized)
		if loadErr != nil {
			return loadErr
		}
		report.Merge(trafficReport)
		return nil
	})
	if err != nil {
		return report, err
	}

	// 3. Device fault facts.
	errorWM, err := r.Store.Watermark(ctx, TableErrors)
	if err != nil {
		return report, helpers.NewLoadError("failed to read error watermark", err)
	}
	rawErrors, err := r.Extractor.FetchErrorsSince(ctx, errorWM)
	if err != nil {
		return report, helpers.NewLoadError("failed to extract error rows", err)
	}

	entries, rejectedErrors := ValidateErrors(rawErrors)
	report.RowsRejected += len(rejectedErrors)
	for _, rej := range rejectedErrors {
		r.Logger.Warning("Dropped error row: %s", rej.Reason)
	}
	r.Metrics.RowsRejected.Add(float64(len(rejectedErrors)))

	err = helpers.RetryWithBackoff(ctx, "error-log load", retries, time.Second, func() error {
		errorReport, loadErr := r.Loader.LoadErrors(ctx, entries)
		if loadErr != nil {
			return loadErr
		}
		report.Merge(errorReport)
		return nil
	})
	if err != nil {
		return report, err
	}

	r.Metrics.RowsLoaded.Add(float64(report.RowsLoaded))
	return report, nil
}

// -----------------------------------------------------------------------------

// RebuildNormalizedView redefines the normalized view from the current
// business-day rules. Rule fixes apply retroactively; no data is rewritten.
func (r *Runner) RebuildNormalizedView() error {
	return r.Store.RebuildNormalizedView(r.Config.Business)
}
