package etl

import (
	"sort"
	"time"

	"traffic-observer/src/helpers"
	"traffic-observer/src/models"
)

// -----------------------------------------------------------------------------

// Normalizer maps accepted raw counts onto the business-day timeline and
// flags implausible readings. The business-day mapping is a pure function of
// (record_time, configured offsets); flagged records are kept, never dropped.
type Normalizer struct {
	business models.MBusinessConfig
	outlier  models.MOutlierConfig
}

// -----------------------------------------------------------------------------

// NewNormalizer validates the business-day and outlier rules up front. A bad
// rule is a NormalizationError: the load must halt rather than anchor records
// onto silently wrong days.
func NewNormalizer(business models.MBusinessConfig, outlier models.MOutlierConfig) (*Normalizer, error) {
	if business.DayStartHour < 0 || business.DayStartHour >= 24 {
		return nil, helpers.NewNormalizationError("day start hour %d out of range [0, 24)", business.DayStartHour)
	}
	for storeID, offset := range business.StoreOffsetsMin {
		if offset <= -24*60 || offset >= 24*60 {
			return nil, helpers.NewNormalizationError("store %d offset %d minutes exceeds one day", storeID, offset)
		}
	}
	if outlier.WindowSize <= 0 {
		return nil, helpers.NewNormalizationError("outlier window size must be positive, got %d", outlier.WindowSize)
	}
	if outlier.Multiplier <= 1 {
		return nil, helpers.NewNormalizationError("outlier multiplier must exceed 1, got %g", outlier.Multiplier)
	}

	return &Normalizer{business: business, outlier: outlier}, nil
}

// -----------------------------------------------------------------------------

// Offset returns the full business-day offset for one store: the global day
// start plus the store's device clock correction.
func (n *Normalizer) Offset(storeID int64) time.Duration {
	d := time.Duration(n.business.DayStartHour) * time.Hour
	if min, ok := n.business.StoreOffsetsMin[storeID]; ok {
		d += time.Duration(min) * time.Minute
	}
	return d
}

// -----------------------------------------------------------------------------

// BusinessDay returns the business-day key (YYYY-MM-DD) a record time belongs
// to. Deterministic and independent of any other record.
func (n *Normalizer) BusinessDay(storeID int64, recordTime time.Time) string {
	return recordTime.Add(-n.Offset(storeID)).Format("2006-01-02")
}

// -----------------------------------------------------------------------------

// AdjustedTime shifts a record time so the business day starts at 00:00.
func (n *Normalizer) AdjustedTime(storeID int64, recordTime time.Time) time.Time {
	return recordTime.Add(-n.Offset(storeID))
}

// -----------------------------------------------------------------------------

// Normalize maps a batch of raw counts to normalized records, preserving
// input order. Outlier flags are computed against the trailing rolling
// average of each store's previous readings in time order, so the result is
// the same regardless of batch order.
func (n *Normalizer) Normalize(records []models.MRawCount) []models.MNormalizedRecord {
	out := make([]models.MNormalizedRecord, len(records))
	for i, r := range records {
		out[i] = models.MNormalizedRecord{
			StoreID:     r.StoreID,
			RecordTime:  r.RecordTime,
			InCount:     r.InCount,
			OutCount:    r.OutCount,
			Position:    r.Position,
			BusinessDay: n.BusinessDay(r.StoreID, r.RecordTime),
		}
	}

	// Group indices per store, sorted by time, then flag against the
	// trailing window.
	byStore := make(map[int64][]int)
	for i, r := range out {
		byStore[r.StoreID] = append(byStore[r.StoreID], i)
	}

	for _, idxs := range byStore {
		sort.Slice(idxs, func(a, b int) bool {
			ra, rb := out[idxs[a]], out[idxs[b]]
			if !ra.RecordTime.Equal(rb.RecordTime) {
				return ra.RecordTime.Before(rb.RecordTime)
			}
			return ra.Position < rb.Position
		})
		n.flagOutliers(out, idxs)
	}

	return out
}

// -----------------------------------------------------------------------------

// flagOutliers walks one store's readings in time order and flags any count
// exceeding Multiplier times the rolling average of the previous WindowSize
// readings. Counts at or below MinCount are never flagged; a reading with no
// history cannot be judged and passes. Negative counts are flagged outright
// (the validator already rejects them; this is the last line).
func (n *Normalizer) flagOutliers(records []models.MNormalizedRecord, idxs []int) {
	var inWindow, outWindow []int64

	for _, i := range idxs {
		r := &records[i]

		if r.InCount < 0 || r.OutCount < 0 {
			r.IsOutlier = true
		} else {
			if exceeds(r.InCount, inWindow, n.outlier) || exceeds(r.OutCount, outWindow, n.outlier) {
				r.IsOutlier = true
			}
		}

		inWindow = push(inWindow, r.InCount, n.outlier.WindowSize)
		outWindow = push(outWindow, r.OutCount, n.outlier.WindowSize)
	}
}

// -----------------------------------------------------------------------------

func exceeds(count int64, window []int64, cfg models.MOutlierConfig) bool {
	if count <= cfg.MinCount || len(window) == 0 {
		return false
	}
	var sum int64
	for _, v := range window {
		sum += v
	}
	avg := float64(sum) / float64(len(window))
	return float64(count) > cfg.Multiplier*avg
}

// -----------------------------------------------------------------------------

func push(window []int64, v int64, size int) []int64 {
	window = append(window, v)
	if len(window) > size {
		window = window[1:]
	}
	return window
}
