package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/dig"

	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/config"
	"courier-dispatch/internal/grpchealth"
	"courier-dispatch/internal/http/handlers"
	"courier-dispatch/internal/http/middleware/auth"
	"courier-dispatch/internal/http/middleware/ratelimit"
	"courier-dispatch/internal/http/pprofserver"
	"courier-dispatch/internal/http/router"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/service/events"
	"courier-dispatch/internal/transport/kafka"
)

// ContainerBuilder is a dig container builder.
type ContainerBuilder struct {
	dbConnect dbConnectFunc
	logFatalf func(string, ...interface{})
}

// NewContainerBuilder returns a new dig container builder
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{
		dbConnect: connectDbWithRetry,
		logFatalf: log.Fatalf,
	}
}

// WithDBConnect sets the database connection function
func (b *ContainerBuilder) WithDBConnect(fn dbConnectFunc) *ContainerBuilder {
	if fn != nil {
		b.dbConnect = fn
	}
	return b
}

// WithLogFatalf sets the log.Fatalf function
func (b *ContainerBuilder) WithLogFatalf(fn func(string, ...interface{})) *ContainerBuilder {
	if fn != nil {
		b.logFatalf = fn
	}
	return b
}

// MustBuild builds the API container or exits.
func (b *ContainerBuilder) MustBuild(ctx context.Context) *dig.Container {
	container, err := b.build(ctx)
	if err != nil {
		b.logFatalf("failed to build container: %v", err)
	}
	return container
}

// MustBuildWorker builds the event worker container or exits.
func (b *ContainerBuilder) MustBuildWorker(ctx context.Context) *dig.Container {
	container, err := b.buildWorker(ctx)
	if err != nil {
		b.logFatalf("failed to build worker container: %v", err)
	}
	return container
}

func (b *ContainerBuilder) build(ctx context.Context) (*dig.Container, error) {
	container, err := b.buildBase(ctx)
	if err != nil {
		return nil, err
	}
	if err := registerHTTP(container); err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return container, nil
}

func (b *ContainerBuilder) buildWorker(ctx context.Context) (*dig.Container, error) {
	container, err := b.buildBase(ctx)
	if err != nil {
		return nil, err
	}
	if err := registerWorker(container); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	return container, nil
}

func (b *ContainerBuilder) buildBase(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	if err := registerCore(container, ctx); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerDb(container, b.dbConnect); err != nil {
		return nil, fmt.Errorf("DB: %w", err)
	}
	if err := registerMetrics(container); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if err := registerDomainServices(container); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	return container, nil
}

// MustBuildContainer builds the API container with default settings.
func MustBuildContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuild(ctx)
}

// MustBuildWorkerContainer builds the event worker container with default settings.
func MustBuildWorkerContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuildWorker(ctx)
}

func provideAll(container *dig.Container, providers ...any) error {
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("provide %T: %w", provider, err)
		}
	}
	return nil
}

func registerCore(container *dig.Container, ctx context.Context) error {
	return provideAll(container,
		func() context.Context { return ctx },
		config.Load,
		NewLogger,
		func() clock.Clock { return clock.Real{} },
	)
}

func registerDb(container *dig.Container, dbConnect dbConnectFunc) error {
	providerDB := func(ctx context.Context, cfg *config.Config, logger logx.Logger) (*pgxpool.Pool, error) {
		return dbConnect(ctx, logger, cfg.DB.DSN(), 10, time.Second)
	}
	return provideAll(container, providerDB)
}

func registerHTTP(container *dig.Container) error {
	serverProvider := func(cfg *config.Config, mux http.Handler) *http.Server {
		return &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	verifierProvider := func(cfg *config.Config, clk clock.Clock, logger logx.Logger) *auth.Verifier {
		if cfg.Auth.JWTSecret == "" {
			logger.Warn("JWT_SECRET is empty, authenticated routes will reject every request")
		}
		return auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, clk, logger)
	}

	if err := provideAll(container,
		handlers.New,
		newDispatchHandler,
		newDeliveryHandler,
		newDriverHandler,
		verifierProvider,
		newRateLimiter,
		newRateLimitMiddleware,
		newRouter,
		serverProvider,
		newHealthServer,
	); err != nil {
		return err
	}
	if err := container.Provide(newPprofServer, dig.Name("pprof_server")); err != nil {
		return fmt.Errorf("provide pprof server: %w", err)
	}
	return nil
}

func registerWorker(container *dig.Container) error {
	consumerProvider := func(cfg *config.Config, logger logx.Logger, p *events.Processor) (*kafka.Consumer, error) {
		return kafka.NewConsumer(logger, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, p.Handle)
	}
	return provideAll(container, consumerProvider)
}

type routerIn struct {
	dig.In

	Logger     logx.Logger
	Base       *handlers.Handlers
	Dispatch   *handlers.DispatchHandler
	Deliveries *handlers.DeliveryHandler
	Drivers    *handlers.DriverHandler
	Verifier   *auth.Verifier
	RateLimit  *ratelimit.Middleware
}

func newRouter(in routerIn) http.Handler {
	return router.New(router.Deps{
		Logger:     in.Logger,
		Base:       in.Base,
		Dispatch:   in.Dispatch,
		Deliveries: in.Deliveries,
		Drivers:    in.Drivers,
		Verifier:   in.Verifier,
		RateLimit:  in.RateLimit.Handler(),
	})
}

// newPprofServer returns nil when profiling is disabled.
func newPprofServer(cfg *config.Config, logger logx.Logger) *http.Server {
	if !cfg.Pprof.Enabled {
		return nil
	}
	return pprofserver.NewServer(pprofserver.Config{
		Addr: cfg.Pprof.Addr,
		User: cfg.Pprof.User,
		Pass: cfg.Pprof.Pass,
	}, logger)
}

// newHealthServer returns nil when GRPC_HEALTH_PORT is not set.
func newHealthServer(cfg *config.Config, pool *pgxpool.Pool, logger logx.Logger) *grpchealth.Server {
	if cfg.GRPC.HealthPort == 0 {
		return nil
	}
	var db grpchealth.Pinger
	if pool != nil {
		db = pool
	}
	return grpchealth.New(db, 5*time.Second, logger)
}
