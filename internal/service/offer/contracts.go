//go:generate mockgen -source=contracts.go -destination=offer_mocks_test.go -package=offer_test

package offer

import (
	"context"

	"courier-dispatch/internal/redispatch"
)

// Enqueuer hands a delivery back to the dispatcher after the transaction commits.
type Enqueuer interface {
	Enqueue(ctx context.Context, t redispatch.Task) error
}
