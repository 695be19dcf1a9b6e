package models

import "time"

// MLoadReport summarizes one ETL run. Row-level rejections are counted here,
// never fatal; NewWatermark is the high-water mark after the run.
type MLoadReport struct {
	RowsLoaded   int       `json:"rows_loaded"`
	RowsRejected int       `json:"rows_rejected"`
	NewWatermark time.Time `json:"new_watermark"`
}

// Merge folds another report into this one (used when a run covers several
// source tables).
func (r *MLoadReport) Merge(other MLoadReport) {
	r.RowsLoaded += other.RowsLoaded
	r.RowsRejected += other.RowsRejected
	if other.NewWatermark.After(r.NewWatermark) {
		r.NewWatermark = other.NewWatermark
	}
}

// MRefreshEvent is the websocket message pushed to dashboards after a load
// brought in new rows.
type MRefreshEvent struct {
	Type         string    `json:"type"`
	RowsLoaded   int       `json:"rows_loaded"`
	RowsRejected int       `json:"rows_rejected"`
	NewWatermark time.Time `json:"new_watermark"`
}
