package storage

import (
	"context"
	"testing"
	"time"

	"traffic-observer/src/logger"
	"traffic-observer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *AnalyticsStore {
	t.Helper()

	cfg := &models.MConfig{
		Storage: models.MStorageConfig{DBPath: ":memory:"},
		ETL:     models.METLConfig{DefaultWatermark: "1900-01-01 00:00:00"},
	}
	store, err := NewAnalyticsStore(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.RebuildNormalizedView(models.MBusinessConfig{DayStartHour: 9}))
	return store
}

func trafficRecord(storeID int64, at time.Time, in int64, outlier bool) models.MNormalizedRecord {
	return models.MNormalizedRecord{
		StoreID:     storeID,
		RecordTime:  at,
		InCount:     in,
		OutCount:    in / 2,
		Position:    "main",
		BusinessDay: at.Add(-9 * time.Hour).Format("2006-01-02"),
		IsOutlier:   outlier,
	}
}

func fullDayFilter(start, end time.Time) models.MTrafficFilter {
	return models.MTrafficFilter{StartTime: start, EndTime: end}
}

// -----------------------------------------------------------------------------

func TestWatermark_DefaultsWhenUnset(t *testing.T) {
	store := newTestStore(t)

	wm, err := store.Watermark(context.Background(), "fact_traffic")

	require.NoError(t, err)
	assert.Equal(t, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), wm)
}

func TestLoadTrafficBatch_IsIdempotentOnRecordIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	batch := []models.MNormalizedRecord{
		trafficRecord(1, at, 100, false),
		trafficRecord(1, at.Add(time.Hour), 120, false),
	}

	inserted, err := store.LoadTrafficBatch(ctx, batch, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Replaying the exact same batch inserts nothing.
	inserted, err = store.LoadTrafficBatch(ctx, batch, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	total, err := store.TotalIn(ctx, fullDayFilter(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, int64(220), total)
}

func TestLoadTrafficBatch_WatermarkIsMonotone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := store.LoadTrafficBatch(ctx, []models.MNormalizedRecord{trafficRecord(1, at, 10, false)}, at)
	require.NoError(t, err)

	// A stale writer trying to move the watermark backwards loses.
	earlier := at.Add(-time.Hour)
	_, err = store.LoadTrafficBatch(ctx, []models.MNormalizedRecord{trafficRecord(2, earlier, 5, false)}, earlier)
	require.NoError(t, err)

	wm, err := store.Watermark(ctx, "fact_traffic")
	require.NoError(t, err)
	assert.Equal(t, at, wm)
}

func TestQueryNormalized_ComputesAdjustedTimeAndBusinessDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// 02:30 wall clock belongs to the previous business day under a 09:00
	// day start.
	at := time.Date(2025, 3, 2, 2, 30, 0, 0, time.UTC)
	_, err := store.LoadTrafficBatch(ctx, []models.MNormalizedRecord{trafficRecord(1, at, 40, false)}, at)
	require.NoError(t, err)

	rows, err := store.QueryNormalized(ctx, fullDayFilter(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-03-01", rows[0].BusinessDay)
	assert.Equal(t, time.Date(2025, 3, 1, 17, 30, 0, 0, time.UTC), rows[0].AdjustedTime)
	assert.Equal(t, at, rows[0].RecordTime)
}

func TestRebuildNormalizedView_ReanchorsHistoryRetroactively(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 2, 2, 30, 0, 0, time.UTC)
	_, err := store.LoadTrafficBatch(ctx, []models.MNormalizedRecord{trafficRecord(1, at, 40, false)}, at)
	require.NoError(t, err)

	// Fix the day-start rule to midnight and rebuild: the same stored row
	// now anchors to March 2nd without any data rewrite.
	require.NoError(t, store.RebuildNormalizedView(models.MBusinessConfig{DayStartHour: 0}))

	rows, err := store.QueryNormalized(ctx, fullDayFilter(
		time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-03-02", rows[0].BusinessDay)
	assert.Equal(t, at, rows[0].AdjustedTime)
}

func TestRebuildNormalizedView_AppliesPerStoreOffsets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	_, err := store.LoadTrafficBatch(ctx, []models.MNormalizedRecord{
		trafficRecord(1, at, 10, false),
		trafficRecord(7, at, 20, false),
	}, at)
	require.NoError(t, err)

	require.NoError(t, store.RebuildNormalizedView(models.MBusinessConfig{
		DayStartHour:    9,
		StoreOffsetsMin: map[int64]int{7: 30},
	}))

	rows, err := store.QueryNormalized(ctx, fullDayFilter(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		switch row.StoreID {
		case 1:
			assert.Equal(t, time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC), row.AdjustedTime)
		case 7:
			assert.Equal(t, time.Date(2025, 3, 2, 2, 30, 0, 0, time.UTC), row.AdjustedTime)
		}
	}
}

func TestQueryNormalized_OutlierToggle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := store.LoadTrafficBatch(ctx, []models.MNormalizedRecord{
		trafficRecord(1, at, 100, false),
		trafficRecord(1, at.Add(time.Hour), 50000, true),
	}, at.Add(time.Hour))
	require.NoError(t, err)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	rows, err := store.QueryNormalized(ctx, fullDayFilter(start, end))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	withOutliers := fullDayFilter(start, end)
	withOutliers.IncludeOutliers = true
	rows, err = store.QueryNormalized(ctx, withOutliers)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestQueryNormalized_FiltersByStoreName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceStores(ctx, []models.MStore{
		{StoreID: 1, StoreName: "Downtown"},
		{StoreID: 2, StoreName: "Airport"},
	}))

	at := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := store.LoadTrafficBatch(ctx, []models.MNormalizedRecord{
		trafficRecord(1, at, 10, false),
		trafficRecord(2, at, 20, false),
	}, at)
	require.NoError(t, err)

	filter := fullDayFilter(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	filter.StoreName = "Airport"

	rows, err := store.QueryNormalized(ctx, filter)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].StoreID)

	// A store nobody has heard of is an empty answer, not an error.
	filter.StoreName = "Z"
	rows, err = store.QueryNormalized(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReplaceStores_RefreshesDimensionWholesale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceStores(ctx, []models.MStore{{StoreID: 1, StoreName: "Old"}}))
	require.NoError(t, store.ReplaceStores(ctx, []models.MStore{
		{StoreID: 1, StoreName: "Downtown"},
		{StoreID: 2, StoreName: "Airport"},
	}))

	names, err := store.ListStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Airport", "Downtown"}, names)
}

func TestErrorLogs_MostRecentFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	entries := []models.MErrorLogEntry{
		{LogID: 1, StoreID: 1, LogTime: base, ErrorMessage: "oldest"},
		{LogID: 2, StoreID: 1, LogTime: base.Add(time.Hour), ErrorMessage: "middle"},
		{LogID: 3, StoreID: 1, LogTime: base.Add(2 * time.Hour), ErrorMessage: "newest"},
	}
	_, err := store.LoadErrorBatch(ctx, entries, base.Add(2*time.Hour))
	require.NoError(t, err)

	logs, err := store.ErrorLogs(ctx, fullDayFilter(
		time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)), 2)

	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "newest", logs[0].ErrorMessage)
	assert.Equal(t, "middle", logs[1].ErrorMessage)
}

func TestLatestRecordTime_NilOnEmptyStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestRecordTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	at := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err = store.LoadTrafficBatch(ctx, []models.MNormalizedRecord{trafficRecord(1, at, 10, false)}, at)
	require.NoError(t, err)

	latest, err = store.LatestRecordTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, at, *latest)
}
