package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

const (
	tableEstimates = "estimates"

	estimateColumns = `id, created_by, coalesce(territory_id, '') AS territory_id, status,
		total_price::float8 AS total_price, customer_name, coalesce(address, '') AS address,
		version, created_at, updated_at`
)

type EstimateRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewEstimateRepository reads estimates from table, or the default one when
// table is empty.
func NewEstimateRepository(pool *pgxpool.Pool, table string) *EstimateRepository {
	if table == "" {
		table = tableEstimates
	}
	return &EstimateRepository{pool: pool, table: table}
}

// Fetch returns every estimate matching filter, newest first.
func (r *EstimateRepository) Fetch(ctx context.Context, filter *domain.Filter) ([]domain.Estimate, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	sql := "SELECT " + estimateColumns + " FROM " + quote(r.table) + where + " ORDER BY created_at DESC, id"
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select estimates: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Estimate])
	if err != nil {
		return nil, fmt.Errorf("scan estimates: %w", err)
	}
	return out, nil
}

// Summarize aggregates matching estimates by status.
func (r *EstimateRepository) Summarize(ctx context.Context, filter *domain.Filter) (*domain.EstimateSummary, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	sql := "SELECT status, count(*), coalesce(sum(total_price), 0)::float8 FROM " +
		quote(r.table) + where + " GROUP BY status"
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize estimates: %w", err)
	}
	defer rows.Close()

	s := &domain.EstimateSummary{ByStatus: map[domain.EstimateStatus]int64{}}
	for rows.Next() {
		var (
			status string
			count  int64
			value  float64
		)
		if err := rows.Scan(&status, &count, &value); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.ByStatus[domain.EstimateStatus(status)] = count
		s.Total += count
		s.TotalValue += value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summarize estimates: %w", err)
	}
	return s, nil
}
