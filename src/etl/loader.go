package etl

import (
	"context"
	"time"

	"traffic-observer/src/helpers"
	"traffic-observer/src/interfaces"
	"traffic-observer/src/logger"
	"traffic-observer/src/models"
)

// Logical table names for watermark tracking.
const (
	TableTraffic = "fact_traffic"
	TableErrors  = "fact_errors"
)

// -----------------------------------------------------------------------------

// Loader persists normalized batches into the analytical store behind a
// watermark. Only records strictly newer than the watermark at the start of
// the run are written; write and watermark advance happen in one transaction,
// so a failed run leaves the watermark exactly where it was.
type Loader struct {
	Store  interfaces.IAnalyticsStore
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewLoader(store interfaces.IAnalyticsStore, log *logger.Logger) *Loader {
	return &Loader{Store: store, Logger: log}
}

// -----------------------------------------------------------------------------

// LoadTraffic writes a normalized batch. Any failure surfaces as a retryable
// LoadError; retrying is safe because record identity makes re-inserts no-ops.
func (l *Loader) LoadTraffic(ctx context.Context, records []models.MNormalizedRecord) (models.MLoadReport, error) {
	watermark, err := l.Store.Watermark(ctx, TableTraffic)
	if err != nil {
		return models.MLoadReport{}, helpers.NewLoadError("failed to read traffic watermark", err)
	}

	fresh := make([]models.MNormalizedRecord, 0, len(records))
	newWatermark := watermark
	for _, r := range records {
		if !r.RecordTime.After(watermark) {
			continue
		}
		fresh = append(fresh, r)
		if r.RecordTime.After(newWatermark) {
			newWatermark = r.RecordTime
		}
	}

	if len(fresh) == 0 {
		l.Logger.Info("No traffic rows newer than watermark %s", watermark.Format(time.DateTime))
		return models.MLoadReport{NewWatermark: watermark}, nil
	}

	inserted, err := l.Store.LoadTrafficBatch(ctx, fresh, newWatermark)
	if err != nil {
		return models.MLoadReport{}, helpers.NewLoadError("failed to load traffic batch", err)
	}

	l.Logger.Info("Loaded %d traffic rows, watermark now %s", inserted, newWatermark.Format(time.DateTime))
	return models.MLoadReport{RowsLoaded: inserted, NewWatermark: newWatermark}, nil
}

// -----------------------------------------------------------------------------

// LoadErrors writes a device fault batch with the same watermark discipline,
// keyed on log_time.
func (l *Loader) LoadErrors(ctx context.Context, entries []models.MErrorLogEntry) (models.MLoadReport, error) {
	watermark, err := l.Store.Watermark(ctx, TableErrors)
	if err != nil {
		return models.MLoadReport{}, helpers.NewLoadError("failed to read error watermark", err)
	}

	fresh := make([]models.MErrorLogEntry, 0, len(entries))
	newWatermark := watermark
	for _, e := range entries {
		if !e.LogTime.After(watermark) {
			continue
		}
		fresh = append(fresh, e)
		if e.LogTime.After(newWatermark) {
			newWatermark = e.LogTime
		}
	}

	if len(fresh) == 0 {
		return models.MLoadReport{NewWatermark: watermark}, nil
	}

	inserted, err := l.Store.LoadErrorBatch(ctx, fresh, newWatermark)
	if err != nil {
		return models.MLoadReport{}, helpers.NewLoadError("failed to load error batch", err)
	}

	l.Logger.Info("Loaded %d error rows, watermark now %s", inserted, newWatermark.Format(time.DateTime))
	return models.MLoadReport{RowsLoaded: inserted, NewWatermark: newWatermark}, nil
}
