package delivery

import (
	"context"
	"fmt"
	"time"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/ports/dispatchtx"
)

// Service - lifecycle hooks of a delivery outside the offer cycle.
type Service struct {
	store            dispatchtx.Runner
	clock            clock.Clock
	operationTimeout time.Duration
	logger           logx.Logger
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.operationTimeout)
}

// NewDeliveryService - creates a new delivery lifecycle service.
func NewDeliveryService(store dispatchtx.Runner, clk clock.Clock, timeout time.Duration, logger logx.Logger) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Service{
		store:            store,
		clock:            clk,
		operationTimeout: timeout,
		logger:           logger,
	}
}

// Ensure registers a pending delivery. Returns false if it already existed.
func (s *Service) Ensure(ctx context.Context, deliveryID string) (bool, error) {
	id, err := validateDeliveryID(deliveryID)
	if err != nil {
		return false, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var created bool
	err = s.store.WithTx(ctx, func(tx dispatchtx.Repository) error {
		var err error
		created, err = tx.EnsureDelivery(ctx, id)
		return err
	})
	if err != nil {
		return false, apperr.Transient(err)
	}
	if created {
		s.logger.Info("delivery registered",
			logx.String("event", "delivery_registered"),
			logx.String("delivery_id", id),
		)
	}
	return created, nil
}

// Get returns the delivery.
func (s *Service) Get(ctx context.Context, deliveryID string) (*domain.Delivery, error) {
	id, err := validateDeliveryID(deliveryID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var d *domain.Delivery
	err = s.store.WithTx(ctx, func(tx dispatchtx.Repository) error {
		var err error
		d, err = tx.GetDelivery(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("delivery %s: %w", id, apperr.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return d, nil
}

// History returns the offer ledger of the delivery, oldest first.
func (s *Service) History(ctx context.Context, deliveryID string) ([]domain.Offer, error) {
	id, err := validateDeliveryID(deliveryID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var offers []domain.Offer
	err = s.store.WithTx(ctx, func(tx dispatchtx.Repository) error {
		d, err := tx.GetDelivery(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("delivery %s: %w", id, apperr.ErrNotFound)
		}
		offers, err = tx.ListOffers(ctx, id)
		return err
	})
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	return offers, nil
}

// Complete finishes an assigned delivery and frees its driver.
func (s *Service) Complete(ctx context.Context, deliveryID string) (*domain.Delivery, error) {
	id, err := validateDeliveryID(deliveryID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result *domain.Delivery
	err = s.store.WithTx(ctx, func(tx dispatchtx.Repository) error {
		d, err := tx.GetDeliveryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("delivery %s: %w", id, apperr.ErrNotFound)
		}
		if d.Status != domain.DeliveryAssigned {
			return fmt.Errorf("delivery %s is %s: %w", id, d.Status, apperr.ErrConflict)
		}

		ok, err := tx.CompleteDelivery(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("delivery %s changed while completing: %w", id, apperr.ErrConflict)
		}
		if err := s.releaseDriver(ctx, tx, id, *d.DriverID); err != nil {
			return err
		}

		result, err = tx.GetDelivery(ctx, id)
		return err
	})
	if err != nil {
		return nil, apperr.Transient(err)
	}

	s.logger.Info("delivery completed",
		logx.String("event", "delivery_completed"),
		logx.String("delivery_id", id),
		logx.String("driver_id", *result.DriverID),
	)
	return result, nil
}

// Cancel cancels a delivery that is not finished yet. A pending offer is
// expired and an assigned driver is released in the same transaction.
func (s *Service) Cancel(ctx context.Context, deliveryID string) (*domain.Delivery, error) {
	id, err := validateDeliveryID(deliveryID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result *domain.Delivery
	err = s.store.WithTx(ctx, func(tx dispatchtx.Repository) error {
		d, err := tx.GetDeliveryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("delivery %s: %w", id, apperr.ErrNotFound)
		}

		switch d.Status {
		case domain.DeliveryPending, domain.DeliveryOffered, domain.DeliveryAssigned:
		default:
			return fmt.Errorf("delivery %s is %s: %w", id, d.Status, apperr.ErrConflict)
		}

		pending, err := tx.PendingOffer(ctx, id)
		if err != nil {
			return err
		}
		if pending != nil {
			if _, err := tx.TransitionOffer(ctx, pending.ID, domain.OfferExpired, s.clock.Now()); err != nil {
				return err
			}
		}

		ok, err := tx.CancelDelivery(ctx, id, d.Status)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("delivery %s changed while cancelling: %w", id, apperr.ErrConflict)
		}
		if d.Status == domain.DeliveryAssigned {
			if err := s.releaseDriver(ctx, tx, id, *d.DriverID); err != nil {
				return err
			}
		}

		result, err = tx.GetDelivery(ctx, id)
		return err
	})
	if err != nil {
		return nil, apperr.Transient(err)
	}

	s.logger.Info("delivery cancelled",
		logx.String("event", "delivery_cancelled"),
		logx.String("delivery_id", id),
	)
	return result, nil
}

// releaseDriver clears is_on_delivery. A driver that was already free only
// gets a warning: refusing would leave the delivery stuck.
func (s *Service) releaseDriver(ctx context.Context, tx dispatchtx.Repository, deliveryID, driverID string) error {
	ok, err := tx.SetDriverOnDelivery(ctx, driverID, false)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("driver was not on delivery",
			logx.String("delivery_id", deliveryID),
			logx.String("driver_id", driverID),
		)
	}
	return nil
}

func validateDeliveryID(raw string) (string, error) {
	id, ok := domain.NormalizeID(raw)
	if !ok {
		return "", fmt.Errorf("delivery id %q: %w", raw, apperr.ErrInvalid)
	}
	return id, nil
}
