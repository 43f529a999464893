package ports

import (
	"context"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// ChangeStream opens authorization-scoped subscriptions on the estimates
// table. Open returns once the source has acknowledged the subscription.
type ChangeStream interface {
	Open(ctx context.Context, filter *domain.Filter) (Feed, error)
}

// Feed is one live subscription. Next blocks until an event arrives, the
// stream fails, or ctx is done. Close is safe to call more than once.
type Feed interface {
	Next(ctx context.Context) (domain.ChangeEvent, error)
	Close() error
}
