//go:generate mockgen -source=contracts.go -destination=events_mocks_test.go -package=events_test

package events

import (
	"context"

	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/service/dispatch"
)

// Dispatcher runs one dispatch round for a delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, deliveryID string) (dispatch.Result, error)
}

// Lifecycle abstracts the delivery hooks driven by upstream events.
type Lifecycle interface {
	Ensure(ctx context.Context, deliveryID string) (bool, error)
	Complete(ctx context.Context, deliveryID string) (*domain.Delivery, error)
	Cancel(ctx context.Context, deliveryID string) (*domain.Delivery, error)
}
