package analysis

import (
	"math"
	"testing"
	"time"

	"traffic-observer/src/logger"
	"traffic-observer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	return NewEngine(logger.NewLogger("error", "test"))
}

func monthRequest(t *testing.T, start, end string) models.MAggregationRequest {
	t.Helper()
	s, err := time.Parse("2006-01-02", start)
	require.NoError(t, err)
	e, err := time.Parse("2006-01-02", end)
	require.NoError(t, err)
	req, err := models.NewAggregationRequest(models.PeriodMonth, s, e, "", false)
	require.NoError(t, err)
	return req
}

func viewRow(store string, at time.Time, in int64, outlier bool) models.MNormalizedRow {
	return models.MNormalizedRow{
		StoreID:      1,
		StoreName:    store,
		RecordTime:   at,
		AdjustedTime: at,
		BusinessDay:  at.Format("2006-01-02"),
		InCount:      in,
		IsOutlier:    outlier,
	}
}

// -----------------------------------------------------------------------------

func TestAggregate_MonthOverMonthGrowth(t *testing.T) {
	// Arrange: December totals 2000, January totals 2500.
	engine := testEngine()
	req := monthRequest(t, "2024-12-01", "2025-01-31")

	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC), 1200, false),
		viewRow("Downtown", time.Date(2024, 12, 20, 10, 0, 0, 0, time.UTC), 800, false),
		viewRow("Downtown", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 1500, false),
		viewRow("Downtown", time.Date(2025, 1, 25, 10, 0, 0, 0, time.UTC), 1000, false),
	}

	// Act
	result := engine.Aggregate(req, rows, 0)

	// Assert: +25% December to January, and growth reports the last bucket.
	require.Len(t, result.TableRows, 2)
	assert.Equal(t, "2025-01", result.TableRows[0].PeriodLabel) // newest first
	assert.InDelta(t, 25.0, result.TableRows[0].PctChange, 0.01)
	assert.InDelta(t, 25.0, result.Metrics.GrowthPct, 0.01)
	assert.Equal(t, int64(4500), result.Metrics.TotalIn)
}

func TestAggregate_GrowthIsZeroWhenPreviousPeriodEmpty(t *testing.T) {
	engine := testEngine()
	req := monthRequest(t, "2025-01-01", "2025-01-31")

	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 2500, false),
	}

	result := engine.Aggregate(req, rows, 0)

	assert.Equal(t, 0.0, result.Metrics.GrowthPct)
}

func TestAggregate_SingleBucketComparesAgainstPrecedingPeriod(t *testing.T) {
	engine := testEngine()
	req := monthRequest(t, "2025-01-01", "2025-01-31")

	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 2500, false),
	}

	result := engine.Aggregate(req, rows, 2000)

	assert.InDelta(t, 25.0, result.Metrics.GrowthPct, 0.01)
}

func TestAggregate_OldestBucketOfMultiBucketTableHasZeroChange(t *testing.T) {
	engine := testEngine()

	start, _ := time.Parse("2006-01-02", "2025-01-01")
	end, _ := time.Parse("2006-01-02", "2025-01-03")
	req, err := models.NewAggregationRequest(models.PeriodDay, start, end, "", false)
	require.NoError(t, err)

	// Flat 100/day across three days. The preceding-period argument covers
	// a shifted multi-day window and must not leak into the oldest row:
	// with no in-range predecessor its delta is 0, like the rest.
	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), 100, false),
		viewRow("Downtown", time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC), 100, false),
		viewRow("Downtown", time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC), 100, false),
	}

	result := engine.Aggregate(req, rows, 300)

	require.Len(t, result.TableRows, 3)
	oldest := result.TableRows[2] // newest first
	assert.Equal(t, "2025-01-01", oldest.PeriodLabel)
	assert.Equal(t, 0.0, oldest.PctChange)
	assert.Equal(t, 0.0, result.TableRows[1].PctChange)
	assert.Equal(t, 0.0, result.TableRows[0].PctChange)
	assert.Equal(t, 0.0, result.Metrics.GrowthPct)
}

func TestAggregate_EmptyRangeIsWellFormedZeroResult(t *testing.T) {
	engine := testEngine()
	req := monthRequest(t, "2025-01-01", "2025-01-31")

	result := engine.Aggregate(req, nil, 0)

	assert.Equal(t, int64(0), result.Metrics.TotalIn)
	assert.Equal(t, 0.0, result.Metrics.GrowthPct)
	assert.Equal(t, "--:--", result.Metrics.PeakTime)
	assert.Nil(t, result.Metrics.BusiestStore)
	assert.Empty(t, result.TableRows)
	assert.Empty(t, result.TrendSeries)
	assert.NotNil(t, result.TableRows)
}

func TestAggregate_AllPercentagesFinite(t *testing.T) {
	engine := testEngine()
	req := monthRequest(t, "2024-11-01", "2025-01-31")

	// November has traffic, December is zero-total via an outlier-only
	// month, January resumes: every pct_change must still be finite.
	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC), 100, false),
		viewRow("Downtown", time.Date(2024, 12, 5, 10, 0, 0, 0, time.UTC), 99999, true),
		viewRow("Downtown", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 300, false),
	}

	result := engine.Aggregate(req, rows, 0)

	for _, row := range result.TableRows {
		assert.False(t, math.IsNaN(row.PctChange) || math.IsInf(row.PctChange, 0),
			"pct_change for %s not finite", row.PeriodLabel)
		assert.False(t, math.IsNaN(row.ProportionPct) || math.IsInf(row.ProportionPct, 0))
	}
	assert.False(t, math.IsNaN(result.Metrics.GrowthPct))
}

func TestAggregate_ProportionsSumToHundred(t *testing.T) {
	engine := testEngine()
	req := monthRequest(t, "2024-10-01", "2025-01-31")

	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2024, 10, 5, 10, 0, 0, 0, time.UTC), 123, false),
		viewRow("Downtown", time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC), 456, false),
		viewRow("Downtown", time.Date(2024, 12, 5, 10, 0, 0, 0, time.UTC), 789, false),
		viewRow("Downtown", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 1011, false),
	}

	result := engine.Aggregate(req, rows, 0)

	var sum float64
	for _, row := range result.TableRows {
		sum += row.ProportionPct
	}
	assert.InDelta(t, 100.0, sum, 0.001)
}

func TestAggregate_OutlierToggle(t *testing.T) {
	engine := testEngine()

	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 200, false),
		viewRow("Downtown", time.Date(2025, 1, 5, 11, 0, 0, 0, time.UTC), 50000, true),
	}

	excluded := engine.Aggregate(monthRequest(t, "2025-01-01", "2025-01-31"), rows, 0)
	assert.Equal(t, int64(200), excluded.Metrics.TotalIn)

	req := monthRequest(t, "2025-01-01", "2025-01-31")
	req.IncludeOutliers = true
	included := engine.Aggregate(req, rows, 0)
	assert.Equal(t, int64(50200), included.Metrics.TotalIn)
}

func TestAggregate_PeakTimeAndBusiestStore(t *testing.T) {
	engine := testEngine()

	start, _ := time.Parse("2006-01-02", "2025-01-05")
	req, err := models.NewAggregationRequest(models.PeriodDay, start, start, "", false)
	require.NoError(t, err)

	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 50, false),
		viewRow("Downtown", time.Date(2025, 1, 5, 14, 0, 0, 0, time.UTC), 300, false),
		viewRow("Airport", time.Date(2025, 1, 5, 14, 30, 0, 0, time.UTC), 100, false),
	}

	result := engine.Aggregate(req, rows, 0)

	// 14:00-15:00 is the busiest hour of the day.
	assert.Equal(t, "14:00", result.Metrics.PeakTime)
	require.NotNil(t, result.Metrics.BusiestStore)
	assert.Equal(t, "Downtown", *result.Metrics.BusiestStore)
}

func TestAggregate_NoBusiestStoreForSingleStoreQuery(t *testing.T) {
	engine := testEngine()

	start, _ := time.Parse("2006-01-02", "2025-01-05")
	req, err := models.NewAggregationRequest(models.PeriodDay, start, start, "Downtown", false)
	require.NoError(t, err)

	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 50, false),
	}

	result := engine.Aggregate(req, rows, 0)

	assert.Nil(t, result.Metrics.BusiestStore)
}

func TestAggregate_TableCappedAtMostRecentBuckets(t *testing.T) {
	engine := testEngine()

	start, _ := time.Parse("2006-01-02", "2025-01-01")
	end, _ := time.Parse("2006-01-02", "2025-02-15")
	req, err := models.NewAggregationRequest(models.PeriodDay, start, end, "", false)
	require.NoError(t, err)

	// 46 daily buckets; the table keeps the newest 31.
	var rows []models.MNormalizedRow
	for d := 0; d < 46; d++ {
		rows = append(rows, viewRow("Downtown",
			time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, d), 10, false))
	}

	result := engine.Aggregate(req, rows, 0)

	require.Len(t, result.TableRows, 31)
	assert.Equal(t, "2025-02-15", result.TableRows[0].PeriodLabel)
	assert.Equal(t, "2025-01-16", result.TableRows[30].PeriodLabel)

	// Proportions and the summary cover the returned window only.
	var sum float64
	for _, row := range result.TableRows {
		sum += row.ProportionPct
	}
	assert.InDelta(t, 100.0, sum, 0.001)
	assert.Equal(t, int64(310), result.Summary.TotalSum)
}

func TestAggregate_TrendSeriesAscendingSubIntervals(t *testing.T) {
	engine := testEngine()

	start, _ := time.Parse("2006-01-02", "2025-01-05")
	req, err := models.NewAggregationRequest(models.PeriodDay, start, start, "", false)
	require.NoError(t, err)

	rows := []models.MNormalizedRow{
		viewRow("Downtown", time.Date(2025, 1, 5, 14, 10, 0, 0, time.UTC), 20, false),
		viewRow("Downtown", time.Date(2025, 1, 5, 9, 5, 0, 0, time.UTC), 10, false),
		viewRow("Downtown", time.Date(2025, 1, 5, 14, 50, 0, 0, time.UTC), 30, false),
	}

	result := engine.Aggregate(req, rows, 0)

	require.Len(t, result.TrendSeries, 2)
	assert.Equal(t, time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC), result.TrendSeries[0].Timestamp)
	assert.Equal(t, int64(10), result.TrendSeries[0].Value)
	assert.Equal(t, int64(50), result.TrendSeries[1].Value)
}

// -----------------------------------------------------------------------------
// Bucketing
// -----------------------------------------------------------------------------

func TestBucketStart_ISOWeekStartsMonday(t *testing.T) {
	// 2025-01-05 is a Sunday; its ISO week started Monday 2024-12-30.
	sunday := time.Date(2025, 1, 5, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC),
		BucketStart(models.PeriodWeek, sunday))

	monday := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, BucketStart(models.PeriodWeek, monday))
}

func TestBucketLabelFormats(t *testing.T) {
	at := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "2025-01-06", BucketLabel(models.PeriodDay, at))
	assert.Equal(t, "2025-W02", BucketLabel(models.PeriodWeek, at))
	assert.Equal(t, "2025-01", BucketLabel(models.PeriodMonth, at))
	assert.Equal(t, "2025", BucketLabel(models.PeriodYear, at))
}

func TestPreviousPeriodRange(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	prevStart, prevEnd := PreviousPeriodRange(models.PeriodMonth, start, end)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), prevStart)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), prevEnd)

	prevStart, prevEnd = PreviousPeriodRange(models.PeriodWeek, start, end)
	assert.Equal(t, start.AddDate(0, 0, -7), prevStart)
	assert.Equal(t, end.AddDate(0, 0, -7), prevEnd)
}
