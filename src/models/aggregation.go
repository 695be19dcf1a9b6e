package models

import (
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Period granularities
// -----------------------------------------------------------------------------

const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

// StoreAll selects every known store.
const StoreAll = "all"

// ValidPeriods lists the supported bucket granularities.
var ValidPeriods = []string{PeriodDay, PeriodWeek, PeriodMonth, PeriodYear}

// -----------------------------------------------------------------------------
// MAggregationRequest
// -----------------------------------------------------------------------------

// MAggregationRequest describes one analytical query. Construct it through
// NewAggregationRequest so an invalid period or inverted range is rejected
// before it reaches the normalized view.
type MAggregationRequest struct {
	Period          string    `json:"period"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	Store           string    `json:"store"`
	IncludeOutliers bool      `json:"include_outliers"`
}

// -----------------------------------------------------------------------------

// NewAggregationRequest validates and builds a request. Dates are truncated to
// whole days; an empty store means "all".
func NewAggregationRequest(period string, start, end time.Time, store string, includeOutliers bool) (MAggregationRequest, error) {
	period = strings.ToLower(strings.TrimSpace(period))

	valid := false
	for _, p := range ValidPeriods {
		if p == period {
			valid = true
			break
		}
	}
	if !valid {
		return MAggregationRequest{}, fmt.Errorf("invalid period %q (want one of %s)", period, strings.Join(ValidPeriods, ", "))
	}

	start = truncateToDay(start)
	end = truncateToDay(end)
	if start.After(end) {
		return MAggregationRequest{}, fmt.Errorf("start_date %s is after end_date %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	if strings.TrimSpace(store) == "" {
		store = StoreAll
	}

	return MAggregationRequest{
		Period:          period,
		StartDate:       start,
		EndDate:         end,
		Store:           store,
		IncludeOutliers: includeOutliers,
	}, nil
}

// -----------------------------------------------------------------------------

// Fingerprint returns the canonical cache-key serialization of the request.
// Identical requests always produce identical fingerprints.
func (r MAggregationRequest) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%s|%t",
		r.Period,
		r.StartDate.Format("2006-01-02"),
		r.EndDate.Format("2006-01-02"),
		r.Store,
		r.IncludeOutliers,
	)
}

// -----------------------------------------------------------------------------

// AllStores reports whether the request spans every store.
func (r MAggregationRequest) AllStores() bool {
	return r.Store == StoreAll
}

// -----------------------------------------------------------------------------

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// -----------------------------------------------------------------------------
// MAggregationResult
// -----------------------------------------------------------------------------

// MAggregationResult is the computed answer to one request. It is never
// mutated after creation; a new load replaces cached copies wholesale.
type MAggregationResult struct {
	Metrics          MMetrics         `json:"metrics"`
	TrendSeries      []MTrendPoint    `json:"trend_series"`
	StoreSeries      []MStorePoint    `json:"store_series"`
	TableRows        []MTableRow      `json:"table_rows"`
	Summary          MSummary         `json:"summary"`
	ErrorLogs        []MErrorLogEntry `json:"error_logs"`
	LatestRecordTime *time.Time       `json:"latest_record_time"`
}

// MMetrics holds the headline numbers of a result.
type MMetrics struct {
	TotalIn      int64   `json:"total_in"`
	AverageIn    float64 `json:"average_in"`
	PeakTime     string  `json:"peak_time"`
	BusiestStore *string `json:"busiest_store"`
	GrowthPct    float64 `json:"growth_pct"`
}

// MTrendPoint is one point of the trend series, at sub-interval granularity.
type MTrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     int64     `json:"value"`
}

// MStorePoint is one store's total over the full requested range.
type MStorePoint struct {
	Store string `json:"store"`
	Value int64  `json:"value"`
}

// MTableRow is one period bucket in the detail table.
type MTableRow struct {
	PeriodLabel   string  `json:"period_label"`
	TotalIn       int64   `json:"total_in"`
	ProportionPct float64 `json:"proportion_pct"`
	PctChange     float64 `json:"pct_change"`
}

// MSummary aggregates the detail table.
type MSummary struct {
	TotalSum  int64   `json:"total_sum"`
	AverageIn float64 `json:"average_in"`
}

// -----------------------------------------------------------------------------

// EmptyAggregationResult returns a well-formed zeroed result. "No data" is an
// answer, not an error.
func EmptyAggregationResult() MAggregationResult {
	return MAggregationResult{
		Metrics:     MMetrics{PeakTime: "--:--"},
		TrendSeries: []MTrendPoint{},
		StoreSeries: []MStorePoint{},
		TableRows:   []MTableRow{},
		ErrorLogs:   []MErrorLogEntry{},
	}
}
