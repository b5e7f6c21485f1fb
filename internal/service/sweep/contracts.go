//go:generate mockgen -source=contracts.go -destination=sweep_mocks_test.go -package=sweep_test

package sweep

import (
	"context"

	"courier-dispatch/internal/redispatch"
)

// Enqueuer hands swept deliveries back to the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, t redispatch.Task) error
}

// Lease keeps concurrent replicas from sweeping the same tick.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
