package sweep

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
	"courier-dispatch/internal/redispatch"
)

// Config holds sweeper settings.
type Config struct {
	Batch            int
	ParkedRetryAfter time.Duration
	OperationTimeout time.Duration
}

// Result summarizes one sweep run.
type Result struct {
	// Processed is the number of offers this run expired.
	Processed int
	// Reoffered counts redispatch tasks handed off for those deliveries.
	Reoffered int
	// Repaired counts orphaned pending offers that were adopted or expired.
	Repaired int
	// Retried counts parked deliveries sent back to the dispatcher.
	Retried int
	// Skipped is set when another replica holds the sweep lease.
	Skipped bool
}

// Service expires elapsed offers and feeds their deliveries back to the dispatcher.
type Service struct {
	store   dispatchtx.Store
	queue   Enqueuer
	lease   Lease
	cfg     Config
	clock   clock.Clock
	logger  logx.Logger
	metrics *metrics.Dispatch
}

// Option configures the sweeper.
type Option func(*Service)

// WithLease makes every run take lease first.
func WithLease(l Lease) Option {
	return func(s *Service) { s.lease = l }
}

// NewService creates the sweeper. ParkedRetryAfter of zero disables parked retries.
func NewService(store dispatchtx.Store, queue Enqueuer, cfg Config, clk clock.Clock, logger logx.Logger, m *metrics.Dispatch, opts ...Option) *Service {
	if cfg.Batch <= 0 {
		cfg.Batch = 500
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
	if queue == nil {
		queue = redispatch.Nop{}
	}
	s := &Service{store: store, queue: queue, cfg: cfg, clock: clk, logger: logger, metrics: m}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepExpiredOffers runs one pass. Only a failure to list expired offers is
// returned; everything per delivery is logged and skipped.
func (s *Service) SweepExpiredOffers(ctx context.Context) (Result, error) {
	if s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		switch {
		case err != nil:
			s.logger.Warn("sweep lease unavailable, sweeping anyway", logx.Err(err))
		case !held:
			s.logger.Debug("sweep skipped, lease held elsewhere")
			return Result{Skipped: true}, nil
		default:
			defer func() {
				if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("sweep lease release failed", logx.Err(err))
				}
			}()
		}
	}

	start := time.Now()
	defer s.metrics.ObserveSince("sweep", start)

	now := s.clock.Now()
	var res Result
	queued := make(map[string]struct{})
	var affected []string
	touch := func(id string) {
		if _, ok := queued[id]; ok {
			return
		}
		queued[id] = struct{}{}
		affected = append(affected, id)
	}

	var repairedIDs []string
	res.Repaired, repairedIDs = s.repairOrphans(ctx, now)
	for _, id := range repairedIDs {
		touch(id)
	}

	listCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	expired, err := s.store.ListExpiredPendingOffers(listCtx, now, s.cfg.Batch)
	cancel()
	if err != nil {
		s.logger.Error("list expired offers failed", logx.Err(err))
		return res, apperr.Transient(fmt.Errorf("list expired offers: %w", err))
	}

	for _, o := range expired {
		ok, err := s.expireOne(ctx, o, now)
		if err != nil {
			s.logger.Warn("expire offer failed",
				logx.String("offer_id", o.ID),
				logx.String("delivery_id", o.DeliveryID),
				logx.Err(err),
			)
			continue
		}
		if !ok {
			continue
		}
		res.Processed++
		touch(o.DeliveryID)
	}

	for _, id := range affected {
		if s.enqueue(ctx, id, redispatch.ReasonExpired, now) {
			res.Reoffered++
		}
	}

	res.Retried = s.retryParked(ctx, now, queued)

	s.metrics.Swept(res.Processed, res.Reoffered, res.Repaired, res.Retried)
	if res.Processed+res.Repaired+res.Retried > 0 {
		s.logger.Info("sweep finished",
			logx.String("event", "sweep_finished"),
			logx.Int("processed", res.Processed),
			logx.Int("reoffered", res.Reoffered),
			logx.Int("repaired", res.Repaired),
			logx.Int("retried", res.Retried),
		)
	}
	return res, nil
}

func (s *Service) tx(ctx context.Context, fn func(tx dispatchtx.Repository) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	return s.store.WithTx(ctx, fn)
}

// expireOne expires a single offer. false means somebody else already resolved it.
func (s *Service) expireOne(ctx context.Context, o domain.Offer, now time.Time) (bool, error) {
	var expired bool
	err := s.tx(ctx, func(tx dispatchtx.Repository) error {
		if _, err := tx.GetDeliveryForUpdate(ctx, o.DeliveryID); err != nil {
			return err
		}
		cur, err := tx.GetOfferForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		if cur == nil || cur.Status != domain.OfferPending {
			return nil
		}
		ok, err := tx.TransitionOffer(ctx, o.ID, domain.OfferExpired, now)
		if err != nil || !ok {
			return err
		}
		if _, err := tx.ResetDeliveryIfOfferedTo(ctx, o.DeliveryID, o.DriverID); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

// repairOrphans resolves pending offers left behind by a half-applied dispatch.
// A live orphan of a pending delivery is adopted, anything else is expired.
// Returns the repaired count and the pending deliveries that need a new offer.
func (s *Service) repairOrphans(ctx context.Context, now time.Time) (int, []string) {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	orphans, err := s.store.ListOrphanedOffers(listCtx, s.cfg.Batch)
	cancel()
	if err != nil {
		s.logger.Warn("list orphaned offers failed", logx.Err(err))
		return 0, nil
	}

	var (
		repaired int
		pending  []string
	)
	for _, o := range orphans {
		var fixed, adopted, requeue bool
		err := s.tx(ctx, func(tx dispatchtx.Repository) error {
			d, err := tx.GetDeliveryForUpdate(ctx, o.DeliveryID)
			if err != nil {
				return err
			}
			cur, err := tx.GetOfferForUpdate(ctx, o.ID)
			if err != nil {
				return err
			}
			if d == nil || cur == nil || cur.Status != domain.OfferPending || d.OfferedTo(cur.DriverID) {
				return nil
			}

			if d.Status == domain.DeliveryPending && !cur.IsExpired(now) {
				ok, err := tx.MarkDeliveryOffered(ctx, d.ID, cur.DriverID, cur.ExpiresAt, now)
				if err != nil {
					return err
				}
				fixed, adopted = ok, ok
				return nil
			}

			ok, err := tx.TransitionOffer(ctx, cur.ID, domain.OfferExpired, now)
			if err != nil {
				return err
			}
			fixed = ok
			requeue = ok && d.Status == domain.DeliveryPending
			return nil
		})
		if err != nil {
			s.logger.Warn("repair orphaned offer failed",
				logx.String("offer_id", o.ID),
				logx.String("delivery_id", o.DeliveryID),
				logx.Err(err),
			)
			continue
		}
		if fixed {
			repaired++
			s.logger.Info("orphaned offer repaired",
				logx.String("event", "offer_repaired"),
				logx.String("offer_id", o.ID),
				logx.String("delivery_id", o.DeliveryID),
				logx.Bool("adopted", adopted),
			)
		}
		if requeue {
			pending = append(pending, o.DeliveryID)
		}
	}
	return repaired, pending
}

// retryParked re-enqueues deliveries that have been pending for longer than
// ParkedRetryAfter, skipping ids this run already queued.
func (s *Service) retryParked(ctx context.Context, now time.Time, queued map[string]struct{}) int {
	if s.cfg.ParkedRetryAfter <= 0 {
		return 0
	}
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	ids, err := s.store.ListStalePending(listCtx, now.Add(-s.cfg.ParkedRetryAfter), s.cfg.Batch)
	cancel()
	if err != nil {
		s.logger.Warn("list parked deliveries failed", logx.Err(err))
		return 0
	}
	retried := 0
	for _, id := range ids {
		if _, ok := queued[id]; ok {
			continue
		}
		queued[id] = struct{}{}
		if s.enqueue(ctx, id, redispatch.ReasonParked, now) {
			retried++
		}
	}
	return retried
}

func (s *Service) enqueue(ctx context.Context, deliveryID, reason string, now time.Time) bool {
	err := s.queue.Enqueue(context.WithoutCancel(ctx), redispatch.Task{
		DeliveryID: deliveryID,
		Reason:     reason,
		EnqueuedAt: now,
	})
	if err != nil {
		s.metrics.RedispatchFailed("enqueue")
		s.logger.Warn("redispatch enqueue failed",
			logx.String("delivery_id", deliveryID),
			logx.String("reason", reason),
			logx.Err(err),
		)
		return false
	}
	return true
}
