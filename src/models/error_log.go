package models

import (
	"database/sql"
	"time"
)

// MErrorLogEntry represents one device fault event. Immutable; surfaced
// read-only in aggregation results, never aggregated.
type MErrorLogEntry struct {
	LogID        int64     `json:"log_id"`
	StoreID      int64     `json:"store_id"`
	StoreName    string    `json:"store_name"`
	DeviceCode   string    `json:"device_code"`
	LogTime      time.Time `json:"log_time"`
	ErrorCode    int64     `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// MErrorSourceRow is a raw device-fault row as scanned from the source store,
// before validation.
type MErrorSourceRow struct {
	LogID        sql.NullInt64
	StoreID      sql.NullInt64
	DeviceCode   sql.NullString
	LogTime      sql.NullTime
	ErrorCode    sql.NullInt64
	ErrorMessage sql.NullString
}

// MStore is one row of the store dimension.
type MStore struct {
	StoreID   int64  `json:"store_id"`
	StoreName string `json:"store_name"`
}
