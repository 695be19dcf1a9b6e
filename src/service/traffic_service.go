package service

import (
	"context"
	"time"

	"traffic-observer/src/analysis"
	"traffic-observer/src/cache"
	"traffic-observer/src/helpers"
	"traffic-observer/src/interfaces"
	"traffic-observer/src/logger"
	"traffic-observer/src/metrics"
	"traffic-observer/src/models"
)

// -----------------------------------------------------------------------------

// TrafficService is the query boundary: it validates requests, consults the
// result cache and assembles answers from the normalized view. Reads are
// unbounded in concurrency; the cache's single-flight is the only
// serialization point.
type TrafficService struct {
	Config  *models.MConfig
	Store   interfaces.IAnalyticsStore
	Engine  *analysis.Engine
	Cache   *cache.ResultCache
	Metrics *metrics.Registry
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewTrafficService(
	cfg *models.MConfig,
	store interfaces.IAnalyticsStore,
	engine *analysis.Engine,
	resultCache *cache.ResultCache,
	reg *metrics.Registry,
	log *logger.Logger,
) *TrafficService {
	return &TrafficService{
		Config:  cfg,
		Store:   store,
		Engine:  engine,
		Cache:   resultCache,
		Metrics: reg,
		Logger:  log,
	}
}

// -----------------------------------------------------------------------------

// Aggregate answers one analytical query. A malformed request is a
// QueryError; an empty range or unknown store is a well-formed zero result.
func (s *TrafficService) Aggregate(ctx context.Context, req models.MAggregationRequest) (models.MAggregationResult, error) {
	// Re-validate through the constructor so hand-built requests can't
	// smuggle in a bad period or inverted range.
	validated, err := models.NewAggregationRequest(req.Period, req.StartDate, req.EndDate, req.Store, req.IncludeOutliers)
	if err != nil {
		return models.MAggregationResult{}, helpers.NewQueryError("malformed aggregation request", err)
	}

	started := time.Now()
	defer func() {
		s.Metrics.QueryDuration.Observe(time.Since(started).Seconds())
	}()

	return s.Cache.GetOrCompute(ctx, validated.Fingerprint(), func(ctx context.Context) (models.MAggregationResult, error) {
		return s.compute(ctx, validated)
	})
}

// -----------------------------------------------------------------------------

func (s *TrafficService) compute(ctx context.Context, req models.MAggregationRequest) (models.MAggregationResult, error) {
	// Business day D covers [D 00:00, D+1 00:00) on the adjusted timeline.
	filter := models.MTrafficFilter{
		StartTime:       req.StartDate,
		EndTime:         req.EndDate.AddDate(0, 0, 1),
		StoreName:       req.Store,
		IncludeOutliers: req.IncludeOutliers,
	}

	rows, err := s.Store.QueryNormalized(ctx, filter)
	if err != nil {
		return models.MAggregationResult{}, err
	}

	// Comparison total for the period immediately before the range, for
	// growth when the result holds a single bucket.
	prevStart, prevEnd := analysis.PreviousPeriodRange(req.Period, req.StartDate, req.EndDate)
	prevTotal, err := s.Store.TotalIn(ctx, models.MTrafficFilter{
		StartTime:       prevStart,
		EndTime:         prevEnd.AddDate(0, 0, 1),
		StoreName:       req.Store,
		IncludeOutliers: req.IncludeOutliers,
	})
	if err != nil {
		return models.MAggregationResult{}, err
	}

	result := s.Engine.Aggregate(req, rows, prevTotal)

	if result.ErrorLogs, err = s.Store.ErrorLogs(ctx, filter, s.Config.ETL.ErrorLogLimit); err != nil {
		return models.MAggregationResult{}, err
	}
	if result.ErrorLogs == nil {
		result.ErrorLogs = []models.MErrorLogEntry{}
	}
	if result.LatestRecordTime, err = s.Store.LatestRecordTime(ctx); err != nil {
		return models.MAggregationResult{}, err
	}

	return result, nil
}

// -----------------------------------------------------------------------------

// ListStores returns all known store names, ordered.
func (s *TrafficService) ListStores(ctx context.Context) ([]string, error) {
	names, err := s.Store.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}
