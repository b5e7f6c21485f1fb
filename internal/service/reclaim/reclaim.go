package reclaim

import (
	"context"
	"fmt"
	"time"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/metrics"
	"courier-dispatch/internal/ports/dispatchtx"
)

// Result describes a successful reclaim.
type Result struct {
	DeliveryID string
	DriverID   string
	OfferID    string
}

// Service lets a driver take back a delivery they previously declined.
type Service struct {
	store            dispatchtx.Runner
	clock            clock.Clock
	logger           logx.Logger
	metrics          *metrics.Dispatch
	operationTimeout time.Duration
}

// NewService creates the reclaim handler.
func NewService(store dispatchtx.Runner, clk clock.Clock, timeout time.Duration, logger logx.Logger, m *metrics.Dispatch) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Service{store: store, clock: clk, logger: logger, metrics: m, operationTimeout: timeout}
}

// Reclaim assigns a still-pending delivery to driverID, who must be the caller
// and must have declined an offer for it before.
func (s *Service) Reclaim(ctx context.Context, deliveryID, driverID, callerID string) (Result, error) {
	id, ok := domain.NormalizeID(deliveryID)
	if !ok {
		return Result{}, fmt.Errorf("delivery id %q: %w", deliveryID, apperr.ErrInvalid)
	}
	driver, ok := domain.NormalizeID(driverID)
	if !ok {
		return Result{}, fmt.Errorf("driver id %q: %w", driverID, apperr.ErrInvalid)
	}
	// ids compare in canonical form: "ABCDEF00-..." and "abcdef00-..." are the same driver
	if caller, ok := domain.NormalizeID(callerID); !ok || caller != driver {
		s.metrics.Reclaimed(metrics.OutcomeError)
		return Result{}, fmt.Errorf("caller may only reclaim for themselves: %w", apperr.ErrUnauthorized)
	}

	ctx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	var res Result
	err := s.store.WithTx(ctx, func(tx dispatchtx.Repository) error {
		var err error
		res, err = s.reclaimTx(ctx, tx, id, driver, s.clock.Now())
		return err
	})
	if err != nil {
		s.metrics.Reclaimed(metrics.OutcomeError)
		return Result{}, apperr.Transient(err)
	}

	s.metrics.Reclaimed(metrics.OutcomeReclaimed)
	s.logger.Info("delivery reclaimed",
		logx.String("event", "delivery_reclaimed"),
		logx.String("delivery_id", res.DeliveryID),
		logx.String("driver_id", res.DriverID),
	)
	return res, nil
}

func (s *Service) reclaimTx(ctx context.Context, tx dispatchtx.Repository, id, driver string, now time.Time) (Result, error) {
	d, err := tx.GetDeliveryForUpdate(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if d == nil {
		return Result{}, fmt.Errorf("delivery %s: %w", id, apperr.ErrNotFound)
	}
	declined, err := tx.HasDeclinedOffer(ctx, id, driver)
	if err != nil {
		return Result{}, err
	}
	if !declined {
		return Result{}, fmt.Errorf("no previous declined offer: %w", apperr.ErrUnauthorized)
	}
	if d.Status != domain.DeliveryPending {
		return Result{}, fmt.Errorf("delivery %s is %s: %w", id, d.Status, apperr.ErrConflict)
	}

	responded := now
	o := &domain.Offer{
		ID:          domain.NewID(),
		DeliveryID:  id,
		DriverID:    driver,
		Status:      domain.OfferAccepted,
		OfferedAt:   now,
		ExpiresAt:   now,
		RespondedAt: &responded,
	}
	if err := tx.InsertOffer(ctx, o); err != nil {
		return Result{}, err
	}
	ok, err := tx.AssignPendingDelivery(ctx, id, driver)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("delivery %s changed while reclaiming: %w", id, apperr.ErrConflict)
	}
	ok, err = tx.SetDriverOnDelivery(ctx, driver, true)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("driver %s is already on a delivery: %w", driver, apperr.ErrConflict)
	}
	return Result{DeliveryID: id, DriverID: driver, OfferID: o.ID}, nil
}
