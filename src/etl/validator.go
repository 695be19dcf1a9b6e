package etl

import (
	"strings"

	"traffic-observer/src/models"
)

// -----------------------------------------------------------------------------
// Schema validation: partition raw source rows into accepted records and
// rejected rows with reasons. Row-level violations are dropped and reported,
// never fatal; structural failures (batch-wide shape mismatch) surface from
// the extractor before rows ever reach this point.
// -----------------------------------------------------------------------------

// ValidateTraffic checks counter rows against the RawCount contract:
// store and timestamp present, counts non-negative. Missing counts default
// to zero, matching the counter firmware's behavior of omitting idle slots.
func ValidateTraffic(rows []models.MSourceRow) ([]models.MRawCount, []models.MRejectedRow) {
	accepted := make([]models.MRawCount, 0, len(rows))
	var rejected []models.MRejectedRow

	for _, r := range rows {
		if !r.StoreID.Valid {
			rejected = append(rejected, models.MRejectedRow{Row: r, Reason: "missing store_id"})
			continue
		}
		if !r.RecordTime.Valid || r.RecordTime.Time.IsZero() {
			rejected = append(rejected, models.MRejectedRow{Row: r, Reason: "missing or unparseable record_time"})
			continue
		}
		if r.InCount.Valid && r.InCount.Int64 < 0 {
			rejected = append(rejected, models.MRejectedRow{Row: r, Reason: "negative in_count"})
			continue
		}
		if r.OutCount.Valid && r.OutCount.Int64 < 0 {
			rejected = append(rejected, models.MRejectedRow{Row: r, Reason: "negative out_count"})
			continue
		}

		accepted = append(accepted, models.MRawCount{
			StoreID:    r.StoreID.Int64,
			RecordTime: r.RecordTime.Time,
			InCount:    r.InCount.Int64,  // zero when NULL
			OutCount:   r.OutCount.Int64, // zero when NULL
			Position:   strings.TrimSpace(r.Position.String),
		})
	}

	return accepted, rejected
}

// -----------------------------------------------------------------------------

// ValidateErrors checks device fault rows against the ErrorLogEntry contract.
// Device code, error code and message are optional in the source schema.
func ValidateErrors(rows []models.MErrorSourceRow) ([]models.MErrorLogEntry, []models.MRejectedRow) {
	accepted := make([]models.MErrorLogEntry, 0, len(rows))
	var rejected []models.MRejectedRow

	for _, r := range rows {
		if !r.LogID.Valid {
			rejected = append(rejected, models.MRejectedRow{Reason: "missing log_id"})
			continue
		}
		if !r.StoreID.Valid {
			rejected = append(rejected, models.MRejectedRow{Reason: "missing store_id"})
			continue
		}
		if !r.LogTime.Valid || r.LogTime.Time.IsZero() {
			rejected = append(rejected, models.MRejectedRow{Reason: "missing or unparseable log_time"})
			continue
		}

		accepted = append(accepted, models.MErrorLogEntry{
			LogID:        r.LogID.Int64,
			StoreID:      r.StoreID.Int64,
			DeviceCode:   strings.TrimSpace(r.DeviceCode.String),
			LogTime:      r.LogTime.Time,
			ErrorCode:    r.ErrorCode.Int64,
			ErrorMessage: strings.TrimSpace(r.ErrorMessage.String),
		})
	}

	return accepted, rejected
}
