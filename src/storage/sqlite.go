package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"traffic-observer/src/logger"
	"traffic-observer/src/models"

	_ "modernc.org/sqlite"
)

// TimeLayout is the canonical timestamp text format of the analytical store.
// Lexicographic order equals chronological order, which the watermark upsert
// relies on.
const TimeLayout = "2006-01-02 15:04:05"

// ViewName is the normalized projection every query reads from.
const ViewName = "v_traffic_normalized"

// -----------------------------------------------------------------------------

// AnalyticsStore is the on-disk analytical store: append-only fact tables, a
// store dimension, watermark state and the normalized view. It is the single
// source of truth for query answers; the engine never reads the fact tables.
type AnalyticsStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger

	defaultWatermark time.Time
}

// -----------------------------------------------------------------------------

func NewAnalyticsStore(cfg *models.MConfig, log *logger.Logger) (*AnalyticsStore, error) {
	wm, err := time.Parse(TimeLayout, cfg.ETL.DefaultWatermark)
	if err != nil {
		return nil, fmt.Errorf("invalid default watermark %q: %w", cfg.ETL.DefaultWatermark, err)
	}

	return &AnalyticsStore{
		Config:           cfg,
		Logger:           log,
		defaultWatermark: wm,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AnalyticsStore) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.Storage.DBPath)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	// Single connection: sqlite serializes writers anyway, and it keeps
	// ":memory:" databases coherent in tests.
	db.SetMaxOpenConns(1)
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AnalyticsStore) createTables() error {
	// Unlike a cache, the fact tables persist across runs: IF NOT EXISTS,
	// never drop-and-recreate.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dim_stores (
			store_id   INTEGER PRIMARY KEY,
			store_name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fact_traffic (
			store_id     INTEGER NOT NULL,
			record_time  TEXT NOT NULL,
			position     TEXT NOT NULL DEFAULT '',
			in_count     INTEGER NOT NULL DEFAULT 0,
			out_count    INTEGER NOT NULL DEFAULT 0,
			business_day TEXT NOT NULL,
			is_outlier   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (store_id, record_time, position)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fact_traffic_time ON fact_traffic (record_time);`,
		`CREATE TABLE IF NOT EXISTS fact_errors (
			log_id        INTEGER PRIMARY KEY,
			store_id      INTEGER NOT NULL,
			device_code   TEXT NOT NULL DEFAULT '',
			log_time      TEXT NOT NULL,
			error_code    INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fact_errors_time ON fact_errors (log_time);`,
		`CREATE TABLE IF NOT EXISTS etl_state (
			table_name       TEXT PRIMARY KEY,
			last_loaded_time TEXT NOT NULL
		);`,
	}

	for _, stmt := range statements {
		if _, err := d.DB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Normalized view
// -----------------------------------------------------------------------------

// RebuildNormalizedView recreates the view as a pure projection of the fact
// tables under the given business-day rules. Because the adjustment is
// computed here and not baked into the rows, fixing a rule and rebuilding
// re-anchors all history without touching data.
func (d *AnalyticsStore) RebuildNormalizedView(rules models.MBusinessConfig) error {
	adjusted := adjustedTimeExpr(rules)

	stmt := fmt.Sprintf(`
		CREATE VIEW %s AS
		SELECT
			t.store_id,
			COALESCE(s.store_name, 'store_' || t.store_id) AS store_name,
			t.record_time,
			t.position,
			t.in_count,
			t.out_count,
			t.is_outlier,
			%s AS adjusted_time,
			date(%s) AS business_day
		FROM fact_traffic AS t
		LEFT JOIN dim_stores AS s ON t.store_id = s.store_id;
	`, ViewName, adjusted, adjusted)

	if _, err := d.DB.Exec(fmt.Sprintf(`DROP VIEW IF EXISTS %s;`, ViewName)); err != nil {
		return fmt.Errorf("failed to drop normalized view: %w", err)
	}
	if _, err := d.DB.Exec(stmt); err != nil {
		return fmt.Errorf("failed to create normalized view: %w", err)
	}

	d.Logger.Info("Normalized view rebuilt (day start %02d:00, %d store offsets)",
		rules.DayStartHour, len(rules.StoreOffsetsMin))
	return nil
}

// -----------------------------------------------------------------------------

// adjustedTimeExpr builds the SQL expression shifting record_time onto the
// business-day timeline. Only integer config values are interpolated.
func adjustedTimeExpr(rules models.MBusinessConfig) string {
	base := rules.DayStartHour * 60
	if len(rules.StoreOffsetsMin) == 0 {
		return shiftExpr(base)
	}

	storeIDs := make([]int64, 0, len(rules.StoreOffsetsMin))
	for id := range rules.StoreOffsetsMin {
		storeIDs = append(storeIDs, id)
	}
	sort.Slice(storeIDs, func(i, j int) bool { return storeIDs[i] < storeIDs[j] })

	var b strings.Builder
	b.WriteString("CASE t.store_id")
	for _, id := range storeIDs {
		fmt.Fprintf(&b, " WHEN %d THEN %s", id, shiftExpr(base+rules.StoreOffsetsMin[id]))
	}
	fmt.Fprintf(&b, " ELSE %s END", shiftExpr(base))
	return b.String()
}

func shiftExpr(totalMinutes int) string {
	if totalMinutes >= 0 {
		return fmt.Sprintf("datetime(t.record_time, '-%d minutes')", totalMinutes)
	}
	return fmt.Sprintf("datetime(t.record_time, '+%d minutes')", -totalMinutes)
}

// -----------------------------------------------------------------------------
// Watermarks
// -----------------------------------------------------------------------------

func (d *AnalyticsStore) Watermark(ctx context.Context, table string) (time.Time, error) {
	var raw string
	err := d.DB.QueryRowContext(ctx,
		`SELECT last_loaded_time FROM etl_state WHERE table_name = ?`, table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return d.defaultWatermark, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark for %s: %w", table, err)
	}

	wm, err := time.Parse(TimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt watermark %q for %s: %w", raw, table, err)
	}
	return wm, nil
}

// The MAX guard makes the watermark monotone even under a stale writer.
const upsertWatermark = `
	INSERT INTO etl_state (table_name, last_loaded_time) VALUES (?, ?)
	ON CONFLICT(table_name) DO UPDATE SET
		last_loaded_time = MAX(etl_state.last_loaded_time, excluded.last_loaded_time)
`

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// LoadTrafficBatch inserts records and advances the traffic watermark in one
// transaction. INSERT OR IGNORE keeps re-runs idempotent at record identity.
func (d *AnalyticsStore) LoadTrafficBatch(ctx context.Context, records []models.MNormalizedRecord, newWatermark time.Time) (int, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO fact_traffic
			(store_id, record_time, position, in_count, out_count, business_day, is_outlier)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.StoreID, r.RecordTime.Format(TimeLayout), r.Position,
			r.InCount, r.OutCount, r.BusinessDay, boolToInt(r.IsOutlier))
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if _, err := tx.ExecContext(ctx, upsertWatermark, "fact_traffic", newWatermark.Format(TimeLayout)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// -----------------------------------------------------------------------------

// LoadErrorBatch inserts device fault entries and advances the error
// watermark in one transaction, idempotent on log_id.
func (d *AnalyticsStore) LoadErrorBatch(ctx context.Context, entries []models.MErrorLogEntry, newWatermark time.Time) (int, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO fact_errors
			(log_id, store_id, device_code, log_time, error_code, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx,
			e.LogID, e.StoreID, e.DeviceCode, e.LogTime.Format(TimeLayout),
			e.ErrorCode, e.ErrorMessage)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if _, err := tx.ExecContext(ctx, upsertWatermark, "fact_errors", newWatermark.Format(TimeLayout)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// -----------------------------------------------------------------------------

// ReplaceStores refreshes the store dimension wholesale.
func (d *AnalyticsStore) ReplaceStores(ctx context.Context, stores []models.MStore) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dim_stores`); err != nil {
		return err
	}
	for _, s := range stores {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dim_stores (store_id, store_name) VALUES (?, ?)`,
			s.StoreID, s.StoreName); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------
// Queries (all against the normalized view)
// -----------------------------------------------------------------------------

// QueryNormalized reads view rows whose adjusted_time falls in
// [StartTime, EndTime), ordered by adjusted time.
func (d *AnalyticsStore) QueryNormalized(ctx context.Context, filter models.MTrafficFilter) ([]models.MNormalizedRow, error) {
	where, params := viewFilter(filter)

	query := fmt.Sprintf(`
		SELECT store_id, store_name, record_time, adjusted_time, business_day,
		       in_count, out_count, is_outlier
		FROM %s
		%s
		ORDER BY adjusted_time
	`, ViewName, where)

	rows, err := d.DB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query normalized view: %w", err)
	}
	defer rows.Close()

	var out []models.MNormalizedRow
	for rows.Next() {
		var (
			row                    models.MNormalizedRow
			recordRaw, adjustedRaw string
			outlier                int
		)
		if err := rows.Scan(&row.StoreID, &row.StoreName, &recordRaw, &adjustedRaw,
			&row.BusinessDay, &row.InCount, &row.OutCount, &outlier); err != nil {
			return nil, err
		}
		if row.RecordTime, err = time.Parse(TimeLayout, recordRaw); err != nil {
			return nil, fmt.Errorf("corrupt record_time %q: %w", recordRaw, err)
		}
		if row.AdjustedTime, err = time.Parse(TimeLayout, adjustedRaw); err != nil {
			return nil, fmt.Errorf("corrupt adjusted_time %q: %w", adjustedRaw, err)
		}
		row.IsOutlier = outlier != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

// TotalIn sums in_count over the filter range.
func (d *AnalyticsStore) TotalIn(ctx context.Context, filter models.MTrafficFilter) (int64, error) {
	where, params := viewFilter(filter)

	var total int64
	err := d.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(SUM(in_count), 0) FROM %s %s`, ViewName, where),
		params...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum in_count: %w", err)
	}
	return total, nil
}

// -----------------------------------------------------------------------------

func viewFilter(filter models.MTrafficFilter) (string, []interface{}) {
	clauses := []string{"adjusted_time >= ?", "adjusted_time < ?"}
	params := []interface{}{
		filter.StartTime.Format(TimeLayout),
		filter.EndTime.Format(TimeLayout),
	}

	if filter.StoreName != "" && filter.StoreName != models.StoreAll {
		clauses = append(clauses, "store_name = ?")
		params = append(params, filter.StoreName)
	}
	if !filter.IncludeOutliers {
		clauses = append(clauses, "is_outlier = 0")
	}

	return "WHERE " + strings.Join(clauses, " AND "), params
}

// -----------------------------------------------------------------------------

// ListStores returns all known store names, ordered.
func (d *AnalyticsStore) ListStores(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT store_name FROM dim_stores ORDER BY store_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// -----------------------------------------------------------------------------

// ErrorLogs returns fault entries in the filter's calendar range, most recent
// first, capped at limit. Faults are reported raw, never aggregated.
func (d *AnalyticsStore) ErrorLogs(ctx context.Context, filter models.MTrafficFilter, limit int) ([]models.MErrorLogEntry, error) {
	clauses := []string{"e.log_time >= ?", "e.log_time < ?"}
	params := []interface{}{
		filter.StartTime.Format(TimeLayout),
		filter.EndTime.Format(TimeLayout),
	}
	if filter.StoreName != "" && filter.StoreName != models.StoreAll {
		clauses = append(clauses, "s.store_name = ?")
		params = append(params, filter.StoreName)
	}
	params = append(params, limit)

	query := fmt.Sprintf(`
		SELECT e.log_id, e.store_id, COALESCE(s.store_name, 'store_' || e.store_id),
		       e.device_code, e.log_time, e.error_code, e.error_message
		FROM fact_errors AS e
		LEFT JOIN dim_stores AS s ON e.store_id = s.store_id
		WHERE %s
		ORDER BY e.log_time DESC
		LIMIT ?
	`, strings.Join(clauses, " AND "))

	rows, err := d.DB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query error logs: %w", err)
	}
	defer rows.Close()

	var out []models.MErrorLogEntry
	for rows.Next() {
		var (
			e      models.MErrorLogEntry
			logRaw string
		)
		if err := rows.Scan(&e.LogID, &e.StoreID, &e.StoreName, &e.DeviceCode,
			&logRaw, &e.ErrorCode, &e.ErrorMessage); err != nil {
			return nil, err
		}
		if e.LogTime, err = time.Parse(TimeLayout, logRaw); err != nil {
			return nil, fmt.Errorf("corrupt log_time %q: %w", logRaw, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

// LatestRecordTime returns the newest loaded record time, or nil when the
// store is empty.
func (d *AnalyticsStore) LatestRecordTime(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	err := d.DB.QueryRowContext(ctx, `SELECT MAX(record_time) FROM fact_traffic`).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest record time: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}

	t, err := time.Parse(TimeLayout, raw.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt record_time %q: %w", raw.String, err)
	}
	return &t, nil
}

// -----------------------------------------------------------------------------

func (d *AnalyticsStore) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// -----------------------------------------------------------------------------

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
