package analysis

import (
	"math"
	"sort"
	"time"

	"traffic-observer/src/logger"
	"traffic-observer/src/models"
)

// maxTableRows caps the detail table at the most recent buckets, matching the
// dashboard's 31-row window. Proportions are computed over the returned rows.
const maxTableRows = 31

// -----------------------------------------------------------------------------

// Engine turns normalized rows into an aggregation result. It is pure
// computation: no I/O, no clock, no hidden state. Percent math never yields
// NaN or Inf; a zero denominator yields zero.
type Engine struct {
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewEngine(log *logger.Logger) *Engine {
	return &Engine{Logger: log}
}

// -----------------------------------------------------------------------------

// Aggregate computes metrics, series and the detail table for one request.
// rows are the normalized view rows for the requested range;
// prevPeriodTotal is the in-count total of the period immediately preceding
// the range, used when the result holds fewer than two buckets.
func (e *Engine) Aggregate(req models.MAggregationRequest, rows []models.MNormalizedRow, prevPeriodTotal int64) models.MAggregationResult {
	result := models.EmptyAggregationResult()

	bucketTotals := make(map[time.Time]int64)
	bucketSubs := make(map[time.Time]map[time.Time]struct{})
	subTotals := make(map[time.Time]int64)
	storeTotals := make(map[string]int64)

	var totalIn int64
	for _, row := range rows {
		if row.IsOutlier && !req.IncludeOutliers {
			continue
		}

		bucket := BucketStart(req.Period, row.AdjustedTime)
		sub := SubIntervalStart(req.Period, row.AdjustedTime)

		bucketTotals[bucket] += row.InCount
		subTotals[sub] += row.InCount
		storeTotals[row.StoreName] += row.InCount
		totalIn += row.InCount

		if bucketSubs[bucket] == nil {
			bucketSubs[bucket] = make(map[time.Time]struct{})
		}
		bucketSubs[bucket][sub] = struct{}{}
	}

	if len(bucketTotals) == 0 {
		return result
	}

	buckets := sortedKeys(bucketTotals)
	subs := sortedKeys(subTotals)

	// Headline metrics.
	result.Metrics.TotalIn = totalIn
	result.Metrics.AverageIn = safeDiv(float64(totalIn), float64(len(subs)))
	result.Metrics.PeakTime = PeakLabel(req.Period, peakSubInterval(subs, subTotals))
	if req.AllStores() {
		result.Metrics.BusiestStore = busiestStore(storeTotals)
	}

	// Percent change per bucket. The first bucket has no predecessor in
	// the range, so its delta is 0 — except for a single-bucket result,
	// where the caller's preceding-period total is an exact one-period
	// comparison.
	pctChanges := make([]float64, len(buckets))
	for i, b := range buckets {
		var prev int64
		switch {
		case i > 0:
			prev = bucketTotals[buckets[i-1]]
		case len(buckets) == 1:
			prev = prevPeriodTotal
		}
		pctChanges[i] = round1(pctChange(bucketTotals[b], prev))
	}
	result.Metrics.GrowthPct = pctChanges[len(pctChanges)-1]

	// Detail table: newest first, capped, proportions over the returned
	// window.
	first := 0
	if len(buckets) > maxTableRows {
		first = len(buckets) - maxTableRows
	}
	shown := buckets[first:]

	var shownSum int64
	for _, b := range shown {
		shownSum += bucketTotals[b]
	}

	result.TableRows = make([]models.MTableRow, 0, len(shown))
	for i := len(shown) - 1; i >= 0; i-- {
		b := shown[i]
		result.TableRows = append(result.TableRows, models.MTableRow{
			PeriodLabel:   BucketLabel(req.Period, b),
			TotalIn:       bucketTotals[b],
			ProportionPct: proportion(bucketTotals[b], shownSum),
			PctChange:     pctChanges[first+i],
		})
	}
	result.Summary = models.MSummary{
		TotalSum:  shownSum,
		AverageIn: safeDiv(float64(shownSum), float64(len(shown))),
	}

	// Trend series at sub-interval granularity, oldest first.
	result.TrendSeries = make([]models.MTrendPoint, 0, len(subs))
	for _, s := range subs {
		result.TrendSeries = append(result.TrendSeries, models.MTrendPoint{
			Timestamp: s,
			Value:     subTotals[s],
		})
	}

	// Store comparison over the full range, independent of bucketing.
	result.StoreSeries = storeSeries(storeTotals)

	return result
}

// -----------------------------------------------------------------------------

// pctChange returns the period-over-period delta in percent, 0 when the
// previous total is zero.
func pctChange(current, previous int64) float64 {
	if previous == 0 {
		return 0
	}
	return float64(current-previous) / float64(previous) * 100
}

// -----------------------------------------------------------------------------

// proportion returns a bucket's share of the total in percent, 0 when the
// total is zero.
func proportion(value, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(value) / float64(total) * 100
}

// -----------------------------------------------------------------------------

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// -----------------------------------------------------------------------------

func sortedKeys(m map[time.Time]int64) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// -----------------------------------------------------------------------------

// peakSubInterval returns the sub-interval with the single highest total,
// earliest wins on ties.
func peakSubInterval(subs []time.Time, totals map[time.Time]int64) time.Time {
	peak := subs[0]
	for _, s := range subs[1:] {
		if totals[s] > totals[peak] {
			peak = s
		}
	}
	return peak
}

// -----------------------------------------------------------------------------

// busiestStore returns the store with the highest total, lexicographically
// smallest name on ties so results are deterministic.
func busiestStore(totals map[string]int64) *string {
	var best string
	var bestTotal int64
	found := false
	for name, t := range totals {
		if !found || t > bestTotal || (t == bestTotal && name < best) {
			best, bestTotal, found = name, t, true
		}
	}
	if !found {
		return nil
	}
	return &best
}

// -----------------------------------------------------------------------------

// storeSeries orders store totals descending, name ascending on ties.
func storeSeries(totals map[string]int64) []models.MStorePoint {
	out := make([]models.MStorePoint, 0, len(totals))
	for name, t := range totals {
		out = append(out, models.MStorePoint{Store: name, Value: t})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Store < out[j].Store
	})
	return out
}
