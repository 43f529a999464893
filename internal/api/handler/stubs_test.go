package handler

import (
	"context"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/infrastructure/cache"
)

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

type stubIdentityService struct {
	resolveFn func(ctx context.Context, token string) (*domain.Identity, error)
}

func (s *stubIdentityService) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	return s.resolveFn(ctx, token)
}

type stubSessionStore struct {
	mu  sync.Mutex
	cur *domain.Identity
	set []*domain.Identity
}

func (s *stubSessionStore) Current() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *stubSessionStore) Set(id *domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = id
	s.set = append(s.set, id)
}

type stubSyncService struct {
	view      *domain.View
	startFn   func(ctx context.Context, id domain.Identity) error
	refreshFn func(ctx context.Context) error
	started   []domain.Identity
}

func (s *stubSyncService) Start(ctx context.Context, id domain.Identity) error {
	s.started = append(s.started, id)
	if s.startFn != nil {
		return s.startFn(ctx, id)
	}
	return nil
}

func (s *stubSyncService) Stop(context.Context) error { return nil }

func (s *stubSyncService) Refresh(ctx context.Context) error {
	if s.refreshFn != nil {
		return s.refreshFn(ctx)
	}
	return nil
}

func (s *stubSyncService) View() *domain.View { return s.view }

type stubReferenceService struct {
	territoriesFn func(ctx context.Context) ([]domain.Territory, error)
	wasteFn       func(ctx context.Context, material string) (*domain.MaterialWaste, error)
	summaryFn     func(ctx context.Context, id domain.Identity) (*domain.EstimateSummary, error)
}

func (s *stubReferenceService) Territories(ctx context.Context) ([]domain.Territory, error) {
	return s.territoriesFn(ctx)
}

func (s *stubReferenceService) UserRole(context.Context, string) (*domain.UserRole, error) {
	return nil, domain.ErrUserNotFound
}

func (s *stubReferenceService) WasteFactor(ctx context.Context, material string) (*domain.MaterialWaste, error) {
	return s.wasteFn(ctx, material)
}

func (s *stubReferenceService) PricingTemplates(context.Context) ([]domain.PricingTemplate, error) {
	return []domain.PricingTemplate{}, nil
}

func (s *stubReferenceService) EstimateSummary(ctx context.Context, id domain.Identity) (*domain.EstimateSummary, error) {
	return s.summaryFn(ctx, id)
}

type stubCacheAdmin struct {
	stats    cache.Stats
	prefixes []string
	evicted  int
}

func (s *stubCacheAdmin) Stats() cache.Stats { return s.stats }

func (s *stubCacheAdmin) ClearPrefix(prefix string) int {
	s.prefixes = append(s.prefixes, prefix)
	return s.evicted
}
