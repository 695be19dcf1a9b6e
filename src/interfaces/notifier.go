package interfaces

import (
	"context"

	"traffic-observer/src/models"
)

// -----------------------------------------------------------------------------

// IRefreshNotifier receives a signal after a successful ETL run so connected
// dashboards can refresh.
type IRefreshNotifier interface {
	NotifyRefresh(report models.MLoadReport)
}

// -----------------------------------------------------------------------------

// IInvalidator drops derived results that a new load has superseded.
type IInvalidator interface {
	Invalidate(ctx context.Context)
}
