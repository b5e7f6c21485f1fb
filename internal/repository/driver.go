package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier-dispatch/internal/domain"
)

const driverColumns = `id::text, name, is_available, is_on_delivery, rating::float8`

func scanDriver(row pgx.Row) (*domain.Driver, error) {
	var d domain.Driver
	if err := row.Scan(&d.ID, &d.Name, &d.IsAvailable, &d.IsOnDelivery, &d.Rating); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDrivers(rows pgx.Rows) ([]domain.Driver, error) {
	defer rows.Close()
	out := make([]domain.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// DriverRepo represents the driver directory.
type DriverRepo struct{ db *pgxpool.Pool }

// NewDriverRepo creates a new DriverRepo.
func NewDriverRepo(db *pgxpool.Pool) *DriverRepo { return &DriverRepo{db: db} }

// Get - returns driver by its ID.
func (r *DriverRepo) Get(ctx context.Context, id string) (*domain.Driver, error) {
	d, err := scanDriver(r.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get driver %s: %w", id, err)
	}
	return d, nil
}

// List returns drivers ordered by id. If limit/offset are nil, returns the full list.
func (r *DriverRepo) List(ctx context.Context, limit, offset *int) ([]domain.Driver, error) {
	q := `SELECT ` + driverColumns + ` FROM drivers ORDER BY id`
	args := make([]any, 0, 2)
	if limit != nil {
		q += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, *limit)
	}
	if offset != nil {
		q += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, *offset)
	}

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	return collectDrivers(rows)
}

// Create - creates a new driver and returns its id.
func (r *DriverRepo) Create(ctx context.Context, d *domain.Driver) (string, error) {
	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO drivers (id, name, is_available, is_on_delivery, rating) VALUES ($1, $2, $3, $4, $5)`,
		id, d.Name, d.IsAvailable, d.IsOnDelivery, d.Rating)
	if err != nil {
		return "", fmt.Errorf("create driver: %w", err)
	}
	return id, nil
}

// UpdatePartial applies a partial update to a driver and returns true if a row was affected.
func (r *DriverRepo) UpdatePartial(ctx context.Context, u domain.PartialDriverUpdate) (bool, error) {
	ct, err := r.db.Exec(ctx, `
        UPDATE drivers
        SET
            name         = COALESCE($2, name),
            is_available = COALESCE($3, is_available),
            rating       = COALESCE($4, rating),
            updated_at   = now()
        WHERE id = $1
    `, u.ID, u.Name, u.IsAvailable, u.Rating)
	if err != nil {
		return false, fmt.Errorf("update driver %s: %w", u.ID, err)
	}
	return ct.RowsAffected() > 0, nil
}
