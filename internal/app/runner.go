package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"courier-dispatch/internal/config"
	"courier-dispatch/internal/grpchealth"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/redispatch"
	"courier-dispatch/internal/service/sweep"
	"courier-dispatch/internal/transport/kafka"
)

const shutdownTimeout = 15 * time.Second

// Runner runs the HTTP API
type Runner struct {
	runFn func(*dig.Container) error
	exit  func(int)
}

// NewRunner returns a new Runner
func NewRunner() *Runner {
	return &Runner{runFn: run, exit: os.Exit}
}

// MustRun starts the API using the provided DI container and blocks until
// its context is done. Any other failure terminates the process.
func (r *Runner) MustRun(container *dig.Container) {
	err := r.runFn(container)
	if err == nil {
		return
	}

	logger := logx.Nop()
	_ = container.Invoke(func(l logx.Logger) { logger = l })

	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("shutdown requested, exiting")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("startup aborted: startup timeout exceeded")
	default:
		logger.Error("run error", logx.Err(err))
		_ = logger.Sync()
		if r.exit != nil {
			r.exit(1)
		}
	}
}

func run(container *dig.Container) error {
	return container.Invoke(appRun)
}

type sweepRunner interface {
	SweepExpiredOffers(ctx context.Context) (sweep.Result, error)
}

type appIn struct {
	dig.In

	Ctx      context.Context
	Logger   logx.Logger
	Config   *config.Config
	Pool     *pgxpool.Pool
	Server   *http.Server
	Sweeper  *sweep.Service
	Pprof    *http.Server           `name:"pprof_server" optional:"true"`
	Health   *grpchealth.Server     `optional:"true"`
	Queue    *redispatch.LocalQueue `optional:"true"`
	Producer *kafka.Producer        `optional:"true"`
	Redis    *redis.Client          `optional:"true"`
}

func appRun(in appIn) error {
	ctx, logger := in.Ctx, in.Logger

	if err := migrateSchema(ctx, in.Pool, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if in.Queue != nil {
		in.Queue.Start(ctx)
	}

	errCh := make(chan error, 3)
	startServer(in.Server, logger, "http", errCh)
	if in.Pprof != nil {
		startServer(in.Pprof, logger, "pprof", errCh)
	}
	if in.Health != nil {
		go in.Health.Watch(ctx)
		addr := fmt.Sprintf(":%d", in.Config.GRPC.HealthPort)
		go func() {
			logger.Info("grpc health listening", logx.String("addr", addr))
			if err := in.Health.ListenAndServe(addr); err != nil {
				errCh <- fmt.Errorf("grpc health: %w", err)
			}
		}()
	}

	if in.Config != nil && in.Config.Dispatch.SweepInterval > 0 {
		startSweepLoop(ctx, logger, in.Sweeper, in.Config.Dispatch.SweepInterval)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down courier-dispatch...")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.Error("listener failed, shutting down", logx.Err(err))
		runErr = err
	}

	gracefulShutdown(in.Server, logger, shutdownTimeout)
	if in.Pprof != nil {
		gracefulShutdown(in.Pprof, logger, shutdownTimeout)
	}
	if in.Health != nil {
		in.Health.Stop()
	}
	closeResources(in, logger)
	return runErr
}

func startServer(server *http.Server, logger logx.Logger, name string, errCh chan<- error) {
	go func() {
		logger.Info("listening", logx.String("server", name), logx.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
}

// startSweepLoop runs the expiry sweeper every interval until ctx is done.
// A failed tick is logged and retried on the next one.
func startSweepLoop(ctx context.Context, logger logx.Logger, sw sweepRunner, interval time.Duration) {
	if sw == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := sw.SweepExpiredOffers(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Error("sweep failed", logx.Err(err))
					continue
				}
				if res.Processed+res.Repaired+res.Retried > 0 {
					logger.Info("sweep done",
						logx.Int("expired", res.Processed),
						logx.Int("reoffered", res.Reoffered),
						logx.Int("repaired", res.Repaired),
						logx.Int("retried", res.Retried),
					)
				}
			}
		}
	}()
}

func gracefulShutdown(srv *http.Server, logger logx.Logger, timeout time.Duration) {
	shCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warn("graceful shutdown error", logx.String("addr", srv.Addr), logx.Err(err))
	}
}

// closeResources stops the redispatch hand-off before the pool so queued
// tasks are not run against a closed database.
func closeResources(in appIn, logger logx.Logger) {
	if in.Queue != nil {
		in.Queue.Close()
	}
	if in.Producer != nil {
		if err := in.Producer.Close(); err != nil {
			logger.Warn("kafka producer close error", logx.Err(err))
		}
	}
	if in.Redis != nil {
		if err := in.Redis.Close(); err != nil {
			logger.Warn("redis close error", logx.Err(err))
		}
	}
	if in.Pool != nil {
		in.Pool.Close()
	}
}
