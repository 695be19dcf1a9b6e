package interfaces

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// ICacheStore defines the contract for result-cache backends. Backends are
// best-effort: any error degrades the caller to direct computation.
// -----------------------------------------------------------------------------

type ICacheStore interface {

	// -----------------------------------------------------------------------------

	// Get returns the cached payload for key. The second return is false on
	// a miss; err is reserved for backend failures.
	Get(ctx context.Context, key string) (string, bool, error)

	// -----------------------------------------------------------------------------

	// Set stores the payload under key with the given TTL.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// -----------------------------------------------------------------------------

	// Flush drops every entry.
	Flush(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Close releases the backend connection.
	Close() error
}
