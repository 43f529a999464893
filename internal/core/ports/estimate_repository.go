package ports

import (
	"context"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// EstimateRepository is the one-shot query side of the source of truth.
type EstimateRepository interface {
	// Fetch returns every estimate matching filter, newest first.
	// A nil filter returns all estimates.
	Fetch(ctx context.Context, filter *domain.Filter) ([]domain.Estimate, error)
	// Summarize aggregates the estimates matching filter by status.
	Summarize(ctx context.Context, filter *domain.Filter) (*domain.EstimateSummary, error)
}
