package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

type ReferenceRepository struct {
	pool *pgxpool.Pool
}

func NewReferenceRepository(pool *pgxpool.Pool) *ReferenceRepository {
	return &ReferenceRepository{pool: pool}
}

func (r *ReferenceRepository) Territories(ctx context.Context) ([]domain.Territory, error) {
	return collect[domain.Territory](ctx, r.pool, `SELECT id, name FROM territories ORDER BY name`)
}

func (r *ReferenceRepository) UserRole(ctx context.Context, userID string) (*domain.UserRole, error) {
	ur, err := collectOne[domain.UserRole](ctx, r.pool,
		`SELECT user_id, role, coalesce(territory_id, '') AS territory_id FROM user_roles WHERE user_id = $1`, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	return ur, err
}

func (r *ReferenceRepository) MaterialWaste(ctx context.Context, material string) (*domain.MaterialWaste, error) {
	mw, err := collectOne[domain.MaterialWaste](ctx, r.pool,
		`SELECT material, waste_percent::float8 AS waste_percent FROM material_waste WHERE material = $1`, material)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("material %q: %w", material, domain.ErrNotFound)
	}
	return mw, err
}

func (r *ReferenceRepository) PricingTemplates(ctx context.Context) ([]domain.PricingTemplate, error) {
	return collect[domain.PricingTemplate](ctx, r.pool,
		`SELECT id, name, unit_prices FROM pricing_templates ORDER BY name`)
}

func collect[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return out, nil
}

func collectOne[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[T])
}
