package driver

import (
	"context"

	"courier-dispatch/internal/domain"
)

// driverRepository defines storage operations required by the driver directory.
type driverRepository interface {
	Get(ctx context.Context, id string) (*domain.Driver, error)
	List(ctx context.Context, limit, offset *int) ([]domain.Driver, error)
	Create(ctx context.Context, d *domain.Driver) (string, error)
	UpdatePartial(ctx context.Context, u domain.PartialDriverUpdate) (bool, error)
}
