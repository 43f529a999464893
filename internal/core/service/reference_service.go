package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/policy"
	"github.com/99minutos/estimate-sync/internal/core/ports"
	"github.com/99minutos/estimate-sync/internal/infrastructure/cache"
	"github.com/99minutos/estimate-sync/internal/infrastructure/metrics"
)

// Cache key namespaces. Identity-scoped namespaces embed the identity
// fingerprint in the key.
const (
	NamespaceTerritories      = "territories"
	NamespaceUserRoles        = "user_roles_"
	NamespaceMaterialWaste    = "material_waste_"
	NamespacePricingTemplates = "pricing_templates"
	NamespaceEstimateSummary  = "estimates_summary_"
)

// ReferenceTTLs sets how long each namespace is cached.
type ReferenceTTLs struct {
	Territories      time.Duration
	UserRoles        time.Duration
	MaterialWaste    time.Duration
	PricingTemplates time.Duration
	EstimateSummary  time.Duration
}

// DefaultReferenceTTLs returns the standard namespace lifetimes.
func DefaultReferenceTTLs() ReferenceTTLs {
	return ReferenceTTLs{
		Territories:      5 * time.Minute,
		UserRoles:        5 * time.Minute,
		MaterialWaste:    10 * time.Minute,
		PricingTemplates: 2 * time.Minute,
		EstimateSummary:  30 * time.Second,
	}
}

type referenceService struct {
	refs      ports.ReferenceRepository
	estimates ports.EstimateRepository
	cache     *cache.Cache
	ttl       ReferenceTTLs
	log       zerolog.Logger
}

// NewReferenceService returns a ReferenceService that reads through c.
func NewReferenceService(
	refs ports.ReferenceRepository,
	estimates ports.EstimateRepository,
	c *cache.Cache,
	ttl ReferenceTTLs,
	log zerolog.Logger,
) ports.ReferenceService {
	return &referenceService{
		refs:      refs,
		estimates: estimates,
		cache:     c,
		ttl:       ttl,
		log:       log.With().Str("component", "reference").Logger(),
	}
}

func (s *referenceService) Territories(ctx context.Context) ([]domain.Territory, error) {
	return readThrough(ctx, s, NamespaceTerritories, NamespaceTerritories, s.ttl.Territories, s.refs.Territories)
}

func (s *referenceService) UserRole(ctx context.Context, userID string) (*domain.UserRole, error) {
	return readThrough(ctx, s, NamespaceUserRoles, NamespaceUserRoles+userID, s.ttl.UserRoles,
		func(ctx context.Context) (*domain.UserRole, error) {
			return s.refs.UserRole(ctx, userID)
		})
}

func (s *referenceService) WasteFactor(ctx context.Context, material string) (*domain.MaterialWaste, error) {
	return readThrough(ctx, s, NamespaceMaterialWaste, NamespaceMaterialWaste+material, s.ttl.MaterialWaste,
		func(ctx context.Context) (*domain.MaterialWaste, error) {
			return s.refs.MaterialWaste(ctx, material)
		})
}

func (s *referenceService) PricingTemplates(ctx context.Context) ([]domain.PricingTemplate, error) {
	return readThrough(ctx, s, NamespacePricingTemplates, NamespacePricingTemplates, s.ttl.PricingTemplates, s.refs.PricingTemplates)
}

// EstimateSummary aggregates the estimates visible to id. The result is
// cached per identity.
func (s *referenceService) EstimateSummary(ctx context.Context, id domain.Identity) (*domain.EstimateSummary, error) {
	filter, err := policy.ServerFilter(id)
	if err != nil {
		return nil, err
	}
	return readThrough(ctx, s, NamespaceEstimateSummary, NamespaceEstimateSummary+id.CacheKey(), s.ttl.EstimateSummary,
		func(ctx context.Context) (*domain.EstimateSummary, error) {
			return s.estimates.Summarize(ctx, filter)
		})
}

// readThrough serves key from the cache or loads and stores it. Failed loads
// are not cached.
func readThrough[T any](
	ctx context.Context,
	s *referenceService,
	namespace, key string,
	ttl time.Duration,
	load func(context.Context) (T, error),
) (T, error) {
	label := strings.TrimSuffix(namespace, "_")
	if v, ok := cache.Lookup[T](s.cache, key); ok {
		metrics.CacheLookupsTotal.WithLabelValues(label, "hit").Inc()
		return v, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues(label, "miss").Inc()

	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("load %s: %w", key, err)
	}
	s.cache.Set(key, v, ttl)
	return v, nil
}
