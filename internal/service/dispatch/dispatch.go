package dispatch

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

// Config holds dispatcher settings.
type Config struct {
	OfferWindow      time.Duration
	CandidateWindows []int
	OperationTimeout time.Duration
}

// Result is the outcome of one dispatch round. Exactly one of Parked and Offer is set.
type Result struct {
	DeliveryID string
	Parked     bool
	Offer      *domain.Offer
}

// Service offers a delivery to the best eligible driver.
type Service struct {
	store   dispatchtx.Runner
	cfg     Config
	clock   clock.Clock
	logger  logx.Logger
	metrics *metrics.Dispatch
}

// NewService creates a dispatcher. Zero config values fall back to defaults.
func NewService(store dispatchtx.Runner, cfg Config, clk clock.Clock, logger logx.Logger, m *metrics.Dispatch) *Service {
	if cfg.OfferWindow <= 0 {
		cfg.OfferWindow = 5 * time.Minute
	}
	if len(cfg.CandidateWindows) == 0 {
		cfg.CandidateWindows = []int{1, 20}
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 3 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Service{store: store, cfg: cfg, clock: clk, logger: logger, metrics: m}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// Dispatch offers the delivery to the next driver, or parks it when nobody is eligible.
func (s *Service) Dispatch(ctx context.Context, deliveryID string) (Result, error) {
	id, ok := domain.NormalizeID(deliveryID)
	if !ok {
		return Result{}, fmt.Errorf("delivery id %q: %w", deliveryID, apperr.ErrInvalid)
	}

	start := time.Now()
	defer s.metrics.ObserveSince("dispatch", start)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var res Result
	err := s.store.WithTx(ctx, func(tx dispatchtx.Repository) error {
		var err error
		res, err = s.dispatchTx(ctx, tx, id, s.clock.Now())
		return err
	})
	if err != nil {
		s.metrics.Dispatched(metrics.OutcomeError)
		return Result{}, apperr.Transient(err)
	}

	if res.Parked {
		s.metrics.Dispatched(metrics.OutcomeParked)
		s.logger.Info("delivery parked",
			logx.String("event", "delivery_parked"),
			logx.String("delivery_id", id),
		)
		return res, nil
	}

	s.metrics.Dispatched(metrics.OutcomeOffered)
	s.logger.Info("offer created",
		logx.String("event", "offer_created"),
		logx.String("delivery_id", id),
		logx.String("offer_id", res.Offer.ID),
		logx.String("driver_id", res.Offer.DriverID),
		logx.Time("expires_at", res.Offer.ExpiresAt),
	)
	return res, nil
}

func (s *Service) dispatchTx(ctx context.Context, tx dispatchtx.Repository, id string, now time.Time) (Result, error) {
	d, err := tx.GetDeliveryForUpdate(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if d == nil {
		return Result{}, fmt.Errorf("delivery %s: %w", id, apperr.ErrNotFound)
	}

	switch d.Status {
	case domain.DeliveryPending:
	case domain.DeliveryOffered:
		if d.HasLiveOffer(now) {
			return Result{}, fmt.Errorf("delivery %s has an active offer: %w", id, apperr.ErrConflict)
		}
		if _, err := tx.ExpireDeliveryOffers(ctx, id, now); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, fmt.Errorf("delivery %s is %s: %w", id, d.Status, apperr.ErrConflict)
	}

	excluded, err := tx.ExcludedDrivers(ctx, id)
	if err != nil {
		return Result{}, err
	}
	driver, err := s.pickCandidate(ctx, tx, excluded)
	if err != nil {
		return Result{}, err
	}
	if driver == nil {
		if err := tx.ParkDelivery(ctx, id); err != nil {
			return Result{}, err
		}
		return Result{DeliveryID: id, Parked: true}, nil
	}

	offer := &domain.Offer{
		ID:         domain.NewID(),
		DeliveryID: id,
		DriverID:   driver.ID,
		Status:     domain.OfferPending,
		OfferedAt:  now,
		ExpiresAt:  now.Add(s.cfg.OfferWindow),
	}
	if err := tx.InsertOffer(ctx, offer); err != nil {
		return Result{}, err
	}
	ok, err := tx.MarkDeliveryOffered(ctx, id, driver.ID, offer.ExpiresAt, now)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("delivery %s changed while offering: %w", id, apperr.ErrConflict)
	}
	return Result{DeliveryID: id, Offer: offer}, nil
}

// pickCandidate walks the configured ranking windows. A wider window is only
// queried when exclusions emptied a full narrower one. The widest window is a
// hard cap: if every driver in it is excluded the delivery parks, even when an
// eligible driver ranks below it.
func (s *Service) pickCandidate(ctx context.Context, tx dispatchtx.Repository, excluded map[string]struct{}) (*domain.Driver, error) {
	for _, limit := range s.cfg.CandidateWindows {
		ranked, err := tx.RankCandidates(ctx, limit)
		if err != nil {
			return nil, err
		}
		for i := range ranked {
			if _, skip := excluded[ranked[i].ID]; !skip {
				return &ranked[i], nil
			}
		}
		if len(excluded) == 0 || len(ranked) < limit {
			return nil, nil
		}
	}
	return nil, nil
}
