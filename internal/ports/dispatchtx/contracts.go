// Package dispatchtx declares the transactional store the dispatch services run against.
// Every write that changes a status is a compare-and-swap: the returned bool is false
// when the row was not in the expected state, which callers treat as a lost race.
package dispatchtx

import (
	"context"
	"time"

	"courier-dispatch/internal/domain"
)

// Repository is the set of store operations available inside one transaction.
// Lookups return (nil, nil) when the row does not exist.
type Repository interface {
	DeliveryStore
	OfferStore
	DriverStore
}

// DeliveryStore covers delivery rows.
type DeliveryStore interface {
	GetDelivery(ctx context.Context, id string) (*domain.Delivery, error)
	GetDeliveryForUpdate(ctx context.Context, id string) (*domain.Delivery, error)
	// EnsureDelivery inserts a pending delivery unless it already exists.
	EnsureDelivery(ctx context.Context, id string) (bool, error)
	// MarkDeliveryOffered moves a pending (or offered but expired at now) delivery to offered.
	MarkDeliveryOffered(ctx context.Context, id, driverID string, expiresAt, now time.Time) (bool, error)
	// ResetDeliveryIfOfferedTo moves the delivery back to pending only while it is offered to driverID.
	ResetDeliveryIfOfferedTo(ctx context.Context, id, driverID string) (bool, error)
	// ParkDelivery leaves the delivery pending with no offer fields.
	ParkDelivery(ctx context.Context, id string) error
	AssignOfferedDelivery(ctx context.Context, id, driverID string) (bool, error)
	AssignPendingDelivery(ctx context.Context, id, driverID string) (bool, error)
	CompleteDelivery(ctx context.Context, id string) (bool, error)
	CancelDelivery(ctx context.Context, id string, from domain.DeliveryStatus) (bool, error)
}

// OfferStore covers the offer ledger.
type OfferStore interface {
	GetOffer(ctx context.Context, id string) (*domain.Offer, error)
	GetOfferForUpdate(ctx context.Context, id string) (*domain.Offer, error)
	// InsertOffer stores o, filling o.ID when empty. A second pending offer for
	// the same delivery is rejected with apperr.ErrConflict.
	InsertOffer(ctx context.Context, o *domain.Offer) error
	// TransitionOffer moves a pending offer to a terminal status.
	TransitionOffer(ctx context.Context, id string, to domain.OfferStatus, respondedAt time.Time) (bool, error)
	// ExpireDeliveryOffers expires pending offers of the delivery whose window elapsed at now.
	ExpireDeliveryOffers(ctx context.Context, deliveryID string, now time.Time) (int64, error)
	PendingOffer(ctx context.Context, deliveryID string) (*domain.Offer, error)
	// ExcludedDrivers returns drivers that declined or let an offer for the delivery expire.
	ExcludedDrivers(ctx context.Context, deliveryID string) (map[string]struct{}, error)
	HasDeclinedOffer(ctx context.Context, deliveryID, driverID string) (bool, error)
	ListOffers(ctx context.Context, deliveryID string) ([]domain.Offer, error)
}

// DriverStore covers the driver directory.
type DriverStore interface {
	// RankCandidates returns available drivers not on a delivery,
	// rating descending (unrated last), then id.
	RankCandidates(ctx context.Context, limit int) ([]domain.Driver, error)
	// SetDriverOnDelivery flips is_on_delivery to on; false when it already had that value.
	SetDriverOnDelivery(ctx context.Context, id string, on bool) (bool, error)
}

// Runner is a transaction runner
type Runner interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}

// Scanner lists sweep work outside of a transaction.
type Scanner interface {
	ListExpiredPendingOffers(ctx context.Context, now time.Time, limit int) ([]domain.Offer, error)
	// ListOrphanedOffers returns pending offers whose delivery is not offered to the offer's driver.
	ListOrphanedOffers(ctx context.Context, limit int) ([]domain.Offer, error)
	// ListStalePending returns ids of pending deliveries untouched since before olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// Store is what the services need from persistence.
type Store interface {
	Runner
	Scanner
}
