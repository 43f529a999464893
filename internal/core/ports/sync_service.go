package ports

import (
	"context"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// SyncService is the consumer-facing side of the sync coordinator.
type SyncService interface {
	Start(ctx context.Context, id domain.Identity) error
	Stop(ctx context.Context) error
	Refresh(ctx context.Context) error
	View() *domain.View
}

// IdentityService resolves a session token into an identity.
type IdentityService interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
}

// ReferenceService serves cached reference data.
type ReferenceService interface {
	Territories(ctx context.Context) ([]domain.Territory, error)
	UserRole(ctx context.Context, userID string) (*domain.UserRole, error)
	WasteFactor(ctx context.Context, material string) (*domain.MaterialWaste, error)
	PricingTemplates(ctx context.Context) ([]domain.PricingTemplate, error)
	EstimateSummary(ctx context.Context, id domain.Identity) (*domain.EstimateSummary, error)
}
