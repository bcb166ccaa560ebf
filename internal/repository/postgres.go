package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// PostgresSource reads work orders from the record store. It holds no write
// methods: mutation of the record store lives in the db package and is only
// reachable from the batch coordinator.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource wraps an existing connection pool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Query returns work orders whose ID matches the filter pattern, optionally
// restricted to a date range.
func (s *PostgresSource) Query(ctx context.Context, filter Filter) ([]models.WorkOrder, error) {
	pattern := filter.IDPattern
	if pattern == "" {
		pattern = DefaultFilter().IDPattern
	}

	query := `
		SELECT wo_id, COALESCE(description, ''), COALESCE(total, 0),
		       COALESCE(location, ''), COALESCE(wo_date, '1970-01-01'::date), COALESCE(status, '')
		FROM work_orders
		WHERE wo_id ~ $1
	`
	args := []interface{}{pattern}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND wo_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND wo_date <= $%d", len(args))
	}
	query += " ORDER BY wo_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("work order query failed: %w", err)
	}
	defer rows.Close()

	var orders []models.WorkOrder
	for rows.Next() {
		var wo models.WorkOrder
		if err := rows.Scan(&wo.ID, &wo.Description, &wo.Amount, &wo.Location, &wo.Date, &wo.Status); err != nil {
			return nil, fmt.Errorf("work order scan failed: %w", err)
		}
		orders = append(orders, wo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("work order rows failed: %w", err)
	}
	return orders, nil
}
