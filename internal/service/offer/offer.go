package offer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/metrics"
	"courier-dispatch/internal/ports/dispatchtx"
	"courier-dispatch/internal/redispatch"
)

// Outcome is what a response did to the offer.
type Outcome string

// List of response outcomes
const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDeclined Outcome = "declined"
	OutcomeExpired  Outcome = "expired"
)

// Result describes a processed response.
type Result struct {
	OfferID    string
	DeliveryID string
	DriverID   string
	Outcome    Outcome
}

// Service applies driver responses to offers.
type Service struct {
	store            dispatchtx.Runner
	queue            Enqueuer
	clock            clock.Clock
	logger           logx.Logger
	metrics          *metrics.Dispatch
	operationTimeout time.Duration
}

// NewService creates the response handler.
func NewService(store dispatchtx.Runner, queue Enqueuer, clk clock.Clock, timeout time.Duration, logger logx.Logger, m *metrics.Dispatch) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	if queue == nil {
		queue = redispatch.Nop{}
	}
	return &Service{store: store, queue: queue, clock: clk, logger: logger, metrics: m, operationTimeout: timeout}
}

// ParseAction normalizes a textual action.
func ParseAction(raw string) (domain.OfferAction, error) {
	a := domain.OfferAction(strings.ToLower(strings.TrimSpace(raw)))
	if !a.Valid() {
		return "", fmt.Errorf("action %q: %w", raw, apperr.ErrInvalid)
	}
	return a, nil
}

// Respond applies accept or decline to a pending offer. An accept that arrives
// after the window closes expires the offer instead and reports OutcomeExpired.
func (s *Service) Respond(ctx context.Context, offerID string, action domain.OfferAction) (Result, error) {
	if !action.Valid() {
		return Result{}, fmt.Errorf("action %q: %w", action, apperr.ErrInvalid)
	}
	id, ok := domain.NormalizeID(offerID)
	if !ok {
		return Result{}, fmt.Errorf("offer id %q: %w", offerID, apperr.ErrInvalid)
	}

	start := time.Now()
	defer s.metrics.ObserveSince("respond", start)

	txCtx, cancel := context.WithTimeout(ctx, s.operationTimeout)
	defer cancel()

	var res Result
	err := s.store.WithTx(txCtx, func(tx dispatchtx.Repository) error {
		var err error
		res, err = s.respondTx(txCtx, tx, id, action, s.clock.Now())
		return err
	})
	if err != nil {
		s.metrics.Responded(metrics.OutcomeError)
		return Result{}, apperr.Transient(err)
	}

	s.metrics.Responded(string(res.Outcome))
	s.logger.Info("offer responded",
		logx.String("event", "offer_"+string(res.Outcome)),
		logx.String("offer_id", res.OfferID),
		logx.String("delivery_id", res.DeliveryID),
		logx.String("driver_id", res.DriverID),
	)

	switch res.Outcome {
	case OutcomeDeclined:
		s.redispatch(ctx, res.DeliveryID, redispatch.ReasonDeclined)
	case OutcomeExpired:
		s.redispatch(ctx, res.DeliveryID, redispatch.ReasonAcceptExpired)
	}
	return res, nil
}

func (s *Service) respondTx(ctx context.Context, tx dispatchtx.Repository, id string, action domain.OfferAction, now time.Time) (Result, error) {
	peek, err := tx.GetOffer(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if peek == nil {
		return Result{}, fmt.Errorf("offer %s: %w", id, apperr.ErrNotFound)
	}
	// delivery row first, then the offer: the order every writer locks in
	if _, err := tx.GetDeliveryForUpdate(ctx, peek.DeliveryID); err != nil {
		return Result{}, err
	}
	o, err := tx.GetOfferForUpdate(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if o == nil {
		return Result{}, fmt.Errorf("offer %s: %w", id, apperr.ErrNotFound)
	}
	if o.Status != domain.OfferPending {
		return Result{}, fmt.Errorf("offer %s already %s: %w", id, o.Status, apperr.ErrConflict)
	}

	res := Result{OfferID: o.ID, DeliveryID: o.DeliveryID, DriverID: o.DriverID}

	if action == domain.ActionDecline {
		if err := s.transition(ctx, tx, o, domain.OfferDeclined, now); err != nil {
			return Result{}, err
		}
		if _, err := tx.ResetDeliveryIfOfferedTo(ctx, o.DeliveryID, o.DriverID); err != nil {
			return Result{}, err
		}
		res.Outcome = OutcomeDeclined
		return res, nil
	}

	if o.IsExpired(now) {
		if err := s.transition(ctx, tx, o, domain.OfferExpired, now); err != nil {
			return Result{}, err
		}
		if _, err := tx.ResetDeliveryIfOfferedTo(ctx, o.DeliveryID, o.DriverID); err != nil {
			return Result{}, err
		}
		res.Outcome = OutcomeExpired
		return res, nil
	}

	if err := s.transition(ctx, tx, o, domain.OfferAccepted, now); err != nil {
		return Result{}, err
	}
	ok, err := tx.AssignOfferedDelivery(ctx, o.DeliveryID, o.DriverID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("delivery %s is no longer offered to driver %s: %w", o.DeliveryID, o.DriverID, apperr.ErrConflict)
	}
	ok, err = tx.SetDriverOnDelivery(ctx, o.DriverID, true)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("driver %s is already on a delivery: %w", o.DriverID, apperr.ErrConflict)
	}
	res.Outcome = OutcomeAccepted
	return res, nil
}

func (s *Service) transition(ctx context.Context, tx dispatchtx.Repository, o *domain.Offer, to domain.OfferStatus, now time.Time) error {
	ok, err := tx.TransitionOffer(ctx, o.ID, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("offer %s is no longer pending: %w", o.ID, apperr.ErrConflict)
	}
	return nil
}

// redispatch is best-effort: the committed response stands even if the hand-off fails.
func (s *Service) redispatch(ctx context.Context, deliveryID, reason string) {
	err := s.queue.Enqueue(context.WithoutCancel(ctx), redispatch.Task{
		DeliveryID: deliveryID,
		Reason:     reason,
		EnqueuedAt: s.clock.Now(),
	})
	if err != nil {
		s.metrics.RedispatchFailed("enqueue")
		s.logger.Warn("redispatch enqueue failed",
			logx.String("delivery_id", deliveryID),
			logx.String("reason", reason),
			logx.Err(err),
		)
	}
}
