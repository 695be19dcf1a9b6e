package interfaces

import (
	"context"
	"time"

	"traffic-observer/src/models"
)

// -----------------------------------------------------------------------------
// IAnalyticsStore defines the contract for the normalized analytical store.
// -----------------------------------------------------------------------------

type IAnalyticsStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the fact, dimension and state tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// RebuildNormalizedView recreates the normalized view from the current
	// business-day rules. Safe to call at any time; the view is a pure
	// projection of the loaded facts.
	RebuildNormalizedView(rules models.MBusinessConfig) error

	// -----------------------------------------------------------------------------

	// Watermark returns the last durably loaded source timestamp for one
	// logical table ("fact_traffic" or "fact_errors").
	Watermark(ctx context.Context, table string) (time.Time, error)

	// -----------------------------------------------------------------------------

	// LoadTrafficBatch writes normalized records and advances the traffic
	// watermark in one transaction. Re-inserting an existing
	// (store_id, record_time, position) identity is a no-op. Returns the
	// number of newly inserted rows.
	LoadTrafficBatch(ctx context.Context, records []models.MNormalizedRecord, newWatermark time.Time) (int, error)

	// -----------------------------------------------------------------------------

	// LoadErrorBatch writes device fault entries and advances the error
	// watermark in one transaction, with the same idempotence guarantee
	// keyed on log_id.
	LoadErrorBatch(ctx context.Context, entries []models.MErrorLogEntry, newWatermark time.Time) (int, error)

	// -----------------------------------------------------------------------------

	// ReplaceStores refreshes the store dimension wholesale.
	ReplaceStores(ctx context.Context, stores []models.MStore) error

	// -----------------------------------------------------------------------------

	// QueryNormalized reads rows from the normalized view. The engine never
	// touches the fact tables directly.
	QueryNormalized(ctx context.Context, filter models.MTrafficFilter) ([]models.MNormalizedRow, error)

	// -----------------------------------------------------------------------------

	// TotalIn sums in_count over the filter range, for period-over-period
	// comparisons.
	TotalIn(ctx context.Context, filter models.MTrafficFilter) (int64, error)

	// -----------------------------------------------------------------------------

	// ListStores returns all known store names, ordered.
	ListStores(ctx context.Context) ([]string, error)

	// -----------------------------------------------------------------------------

	// ErrorLogs returns device fault entries matching the filter, most
	// recent first, capped at limit.
	ErrorLogs(ctx context.Context, filter models.MTrafficFilter, limit int) ([]models.MErrorLogEntry, error)

	// -----------------------------------------------------------------------------

	// LatestRecordTime returns the newest loaded record time, or nil when
	// the store is empty.
	LatestRecordTime(ctx context.Context) (*time.Time, error)

	// -----------------------------------------------------------------------------

	// Close the store connection
	Close() error
}
