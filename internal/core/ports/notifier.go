package ports

import (
	"context"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// Notifier accepts notifications for asynchronous delivery. Publish must not
// block the caller.
type Notifier interface {
	Publish(n domain.Notification)
}

// NotificationSink is a delivery target (websocket clients, recent list).
type NotificationSink interface {
	Deliver(ctx context.Context, n domain.Notification) error
}
