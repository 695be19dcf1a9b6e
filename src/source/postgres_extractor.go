package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"traffic-observer/src/logger"
	"traffic-observer/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

// PostgresExtractor pulls raw counter data from the vendor's relational store.
// All queries are incremental (record_time > watermark) and bounded by the
// configured timeout.
type PostgresExtractor struct {
	Config  *models.MConfig
	DB      *sql.DB
	Logger  *logger.Logger
	timeout time.Duration
}

// -----------------------------------------------------------------------------

func NewPostgresExtractor(cfg *models.MConfig, log *logger.Logger) (*PostgresExtractor, error) {
	db, err := sql.Open("postgres", cfg.Source.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open source connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to reach source store: %w", err)
	}

	return &PostgresExtractor{
		Config:  cfg,
		DB:      db,
		Logger:  log,
		timeout: time.Duration(cfg.Source.QueryTimeoutSec) * time.Second,
	}, nil
}

// -----------------------------------------------------------------------------

// FetchTrafficSince returns counter rows newer than the watermark, ordered by
// record_time so the loader sees a monotone stream.
func (e *PostgresExtractor) FetchTrafficSince(ctx context.Context, since time.Time) ([]models.MSourceRow, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT store_id, record_time, in_count, out_count, position
		FROM %s
		WHERE record_time > $1
		ORDER BY record_time
	`, e.Config.Source.TrafficTable)

	rows, err := e.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to extract traffic rows: %w", err)
	}
	defer rows.Close()

	var out []models.MSourceRow
	for rows.Next() {
		var r models.MSourceRow
		if err := rows.Scan(&r.StoreID, &r.RecordTime, &r.InCount, &r.OutCount, &r.Position); err != nil {
			// A scan failure here is structural (column/type mismatch),
			// not a bad row; fail the batch whole.
			return nil, fmt.Errorf("traffic batch has unexpected shape: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("traffic extraction aborted: %w", err)
	}

	e.Logger.Debug("Extracted %d traffic rows since %s", len(out), since.Format(time.DateTime))
	return out, nil
}

// -----------------------------------------------------------------------------

// FetchErrorsSince returns device fault rows newer than the watermark.
func (e *PostgresExtractor) FetchErrorsSince(ctx context.Context, since time.Time) ([]models.MErrorSourceRow, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT log_id, store_id, device_code, log_time, error_code, error_message
		FROM %s
		WHERE log_time > $1
		ORDER BY log_time
	`, e.Config.Source.ErrorTable)

	rows, err := e.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to extract error rows: %w", err)
	}
	defer rows.Close()

	var out []models.MErrorSourceRow
	for rows.Next() {
		var r models.MErrorSourceRow
		if err := rows.Scan(&r.LogID, &r.StoreID, &r.DeviceCode, &r.LogTime, &r.ErrorCode, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("error-log batch has unexpected shape: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error-log extraction aborted: %w", err)
	}

	e.Logger.Debug("Extracted %d error rows since %s", len(out), since.Format(time.DateTime))
	return out, nil
}

// -----------------------------------------------------------------------------

// FetchStores returns the full store dimension.
func (e *PostgresExtractor) FetchStores(ctx context.Context) ([]models.MStore, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT store_id, store_name FROM %s ORDER BY store_id`, e.Config.Source.StoreTable)

	rows, err := e.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to extract stores: %w", err)
	}
	defer rows.Close()

	var out []models.MStore
	for rows.Next() {
		var s models.MStore
		if err := rows.Scan(&s.StoreID, &s.StoreName); err != nil {
			return nil, fmt.Errorf("store batch has unexpected shape: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

func (e *PostgresExtractor) Close() error {
	return e.DB.Close()
}
