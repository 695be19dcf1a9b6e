package models

import (
	"database/sql"
	"time"
)

// MRawCount represents one counter sample extracted from the source system.
type MRawCount struct {
	StoreID    int64     `json:"store_id"`
	RecordTime time.Time `json:"record_time"`
	InCount    int64     `json:"in_count"`
	OutCount   int64     `json:"out_count"`
	Position   string    `json:"position"`
}

// MSourceRow is a raw row as scanned from the source store, before validation.
// Every field is nullable so the validator owns the accept/reject decision.
type MSourceRow struct {
	StoreID    sql.NullInt64
	RecordTime sql.NullTime
	InCount    sql.NullInt64
	OutCount   sql.NullInt64
	Position   sql.NullString
}

// MRejectedRow pairs a dropped source row with the reason it was dropped.
type MRejectedRow struct {
	Row    MSourceRow `json:"-"`
	Reason string     `json:"reason"`
}

// MNormalizedRecord is a RawCount re-anchored onto the business-day timeline.
type MNormalizedRecord struct {
	StoreID     int64     `json:"store_id"`
	RecordTime  time.Time `json:"record_time"`
	InCount     int64     `json:"in_count"`
	OutCount    int64     `json:"out_count"`
	Position    string    `json:"position"`
	BusinessDay string    `json:"business_day"` // YYYY-MM-DD
	IsOutlier   bool      `json:"is_outlier"`
}

// MTrafficFilter selects normalized rows by wall-clock record time and store.
// EndTime is exclusive. An empty StoreName means every store; a name that
// matches nothing yields an empty result, not an error.
type MTrafficFilter struct {
	StartTime       time.Time
	EndTime         time.Time
	StoreName       string
	IncludeOutliers bool
}

// MNormalizedRow is one row of the normalized view, as read back for queries.
type MNormalizedRow struct {
	StoreID      int64
	StoreName    string
	RecordTime   time.Time
	AdjustedTime time.Time
	BusinessDay  string
	InCount      int64
	OutCount     int64
	IsOutlier    bool
}
