package app

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/config"
	"courier-dispatch/internal/http/handlers"
	"courier-dispatch/internal/lease"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/metrics"
	"courier-dispatch/internal/ports/dispatchtx"
	"courier-dispatch/internal/redispatch"
	"courier-dispatch/internal/repository"
	"courier-dispatch/internal/service/delivery"
	"courier-dispatch/internal/service/dispatch"
	"courier-dispatch/internal/service/driver"
	"courier-dispatch/internal/service/events"
	"courier-dispatch/internal/service/offer"
	"courier-dispatch/internal/service/reclaim"
	"courier-dispatch/internal/service/sweep"
	"courier-dispatch/internal/transport/kafka"
)

const sweepLeaseKey = "courier-dispatch:sweep"

// dispatchMetrics is shared by every container of the process so a second
// build keeps reporting through the collectors already on /metrics.
var dispatchMetrics = metrics.NewDispatch()

type metricsOut struct {
	dig.Out

	RateLimitExceededTotal prometheus.Counter `name:"rate_limit_exceeded_total"`
	RedispatchRetriesTotal prometheus.Counter `name:"redispatch_retries_total"`
	Dispatch               *metrics.Dispatch
}

func registerMetrics(container *dig.Container) error {
	return provideAll(container, provideMetrics)
}

// provideMetrics registers collectors with the default registry. Collectors
// that are already registered are reused.
func provideMetrics() (metricsOut, error) {
	reg := prometheus.DefaultRegisterer

	rl, err := registerCounter(reg, metrics.NewRateLimitExceededTotal())
	if err != nil {
		return metricsOut{}, fmt.Errorf("register rate_limit_exceeded_total: %w", err)
	}
	rr, err := registerCounter(reg, metrics.NewRedispatchRetriesTotal())
	if err != nil {
		return metricsOut{}, fmt.Errorf("register redispatch_retries_total: %w", err)
	}

	m := dispatchMetrics
	if err := m.Register(reg); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return metricsOut{}, fmt.Errorf("register dispatch metrics: %w", err)
		}
	}

	return metricsOut{
		RateLimitExceededTotal: rl,
		RedispatchRetriesTotal: rr,
		Dispatch:               m,
	}, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func registerDomainServices(container *dig.Container) error {
	return provideAll(container,
		repository.NewDispatchRepo,
		repository.NewDriverRepo,
		func(r *repository.DispatchRepo) dispatchtx.Store { return r },
		newDispatchService,
		newOfferService,
		newReclaimService,
		newSweepLease,
		newSweepService,
		func(store dispatchtx.Store, cfg *config.Config, clk clock.Clock, logger logx.Logger) *delivery.Service {
			return delivery.NewDeliveryService(store, clk, cfg.Dispatch.OperationTimeout, logger)
		},
		func(repo *repository.DriverRepo, cfg *config.Config) *driver.Service {
			return driver.NewService(repo, cfg.Dispatch.OperationTimeout)
		},
		func(d *dispatch.Service, l *delivery.Service, logger logx.Logger) *events.Processor {
			return events.NewProcessor(d, l, logger)
		},
		newRedispatch,
	)
}

func newDispatchService(
	store dispatchtx.Store,
	cfg *config.Config,
	clk clock.Clock,
	logger logx.Logger,
	m *metrics.Dispatch,
) *dispatch.Service {
	return dispatch.NewService(store, dispatch.Config{
		OfferWindow:      cfg.Dispatch.OfferWindow,
		CandidateWindows: cfg.Dispatch.CandidateWindows,
		OperationTimeout: cfg.Dispatch.OperationTimeout,
	}, clk, logger, m)
}

func newOfferService(
	store dispatchtx.Store,
	queue redispatch.Enqueuer,
	cfg *config.Config,
	clk clock.Clock,
	logger logx.Logger,
	m *metrics.Dispatch,
) *offer.Service {
	return offer.NewService(store, queue, clk, cfg.Dispatch.OperationTimeout, logger, m)
}

func newReclaimService(
	store dispatchtx.Store,
	cfg *config.Config,
	clk clock.Clock,
	logger logx.Logger,
	m *metrics.Dispatch,
) *reclaim.Service {
	return reclaim.NewService(store, clk, cfg.Dispatch.OperationTimeout, logger, m)
}

type sweepLeaseOut struct {
	dig.Out

	Lease sweep.Lease
	Redis *redis.Client
}

// newSweepLease yields a nil lease and client when REDIS_ADDR is empty;
// the sweeper then runs unguarded.
func newSweepLease(cfg *config.Config) sweepLeaseOut {
	if cfg.Redis.Addr == "" {
		return sweepLeaseOut{}
	}
	client := lease.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	return sweepLeaseOut{
		Lease: lease.New(client, sweepLeaseKey, cfg.Dispatch.SweepLeaseTTL),
		Redis: client,
	}
}

func newSweepService(
	store dispatchtx.Store,
	queue redispatch.Enqueuer,
	l sweep.Lease,
	cfg *config.Config,
	clk clock.Clock,
	logger logx.Logger,
	m *metrics.Dispatch,
) *sweep.Service {
	var opts []sweep.Option
	if l != nil {
		opts = append(opts, sweep.WithLease(l))
	}
	return sweep.NewService(store, queue, sweep.Config{
		Batch:            cfg.Dispatch.SweepBatch,
		ParkedRetryAfter: cfg.Dispatch.ParkedRetryAfter,
		OperationTimeout: cfg.Dispatch.OperationTimeout,
	}, clk, logger, m, opts...)
}

type redispatchIn struct {
	dig.In

	Config    *config.Config
	Logger    logx.Logger
	Processor *events.Processor
	Retries   prometheus.Counter `name:"redispatch_retries_total"`
	Metrics   *metrics.Dispatch
}

type redispatchOut struct {
	dig.Out

	Enqueuer redispatch.Enqueuer
	Local    *redispatch.LocalQueue
	Producer *kafka.Producer
}

// newRedispatch picks the hand-off used after a decline or an expiry. Only
// the member matching REDISPATCH_MODE is non-nil besides Enqueuer.
func newRedispatch(in redispatchIn) (redispatchOut, error) {
	rc := in.Config.Redispatch
	switch rc.Mode {
	case config.RedispatchKafka:
		p, err := kafka.NewProducer(in.Logger, in.Config.Kafka.Brokers, in.Config.Kafka.Topic, in.Metrics)
		if err != nil {
			return redispatchOut{}, err
		}
		return redispatchOut{Enqueuer: p, Producer: p}, nil
	default:
		q := redispatch.NewLocalQueue(redispatch.Config{
			Workers:     rc.Workers,
			QueueSize:   rc.QueueSize,
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   rc.BaseDelay,
			MaxDelay:    rc.MaxDelay,
		}, in.Processor.HandleTask, in.Logger, in.Retries, in.Metrics)
		return redispatchOut{Enqueuer: q, Local: q}, nil
	}
}

func newDispatchHandler(
	logger logx.Logger,
	d *dispatch.Service,
	resp *offer.Service,
	rec *reclaim.Service,
	sw *sweep.Service,
) *handlers.DispatchHandler {
	return handlers.NewDispatchHandler(logger, d, resp, rec, sw)
}

func newDeliveryHandler(logger logx.Logger, uc *delivery.Service) *handlers.DeliveryHandler {
	return handlers.NewDeliveryHandler(logger, uc)
}

func newDriverHandler(logger logx.Logger, uc *driver.Service) *handlers.DriverHandler {
	return handlers.NewDriverHandler(logger, uc)
}
