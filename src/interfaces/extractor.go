package interfaces

import (
	"context"
	"time"

	"traffic-observer/src/models"
)

// -----------------------------------------------------------------------------
// IExtractor defines the contract for the source boundary. Strictly read-only:
// the pipeline never pushes anything back to the counter vendor's store.
// -----------------------------------------------------------------------------

type IExtractor interface {

	// -----------------------------------------------------------------------------

	// FetchTrafficSince pulls raw counter rows with record_time > since,
	// ordered by record_time.
	FetchTrafficSince(ctx context.Context, since time.Time) ([]models.MSourceRow, error)

	// -----------------------------------------------------------------------------

	// FetchErrorsSince pulls device fault rows with log_time > since.
	FetchErrorsSince(ctx context.Context, since time.Time) ([]models.MErrorSourceRow, error)

	// -----------------------------------------------------------------------------

	// FetchStores pulls the full store dimension.
	FetchStores(ctx context.Context) ([]models.MStore, error)

	// -----------------------------------------------------------------------------

	// Close the source connection
	Close() error
}
