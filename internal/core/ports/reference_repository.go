package ports

import (
	"context"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// ReferenceRepository reads slowly-changing reference data.
type ReferenceRepository interface {
	Territories(ctx context.Context) ([]domain.Territory, error)
	// UserRole returns domain.ErrUserNotFound when no binding exists.
	UserRole(ctx context.Context, userID string) (*domain.UserRole, error)
	// MaterialWaste returns domain.ErrNotFound for unknown materials.
	MaterialWaste(ctx context.Context, material string) (*domain.MaterialWaste, error)
	PricingTemplates(ctx context.Context) ([]domain.PricingTemplate, error)
}
