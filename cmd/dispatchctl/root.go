package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/config"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/ports/dispatchtx"
	"courier-dispatch/internal/redispatch"
	"courier-dispatch/internal/repository"
	"courier-dispatch/internal/service/delivery"
	"courier-dispatch/internal/service/dispatch"
	"courier-dispatch/internal/service/events"
	"courier-dispatch/internal/service/sweep"
)

// services is what the subcommands operate on. Redispatch is inline: a
// swept delivery is re-offered before the command returns.
type services struct {
	cfg        *config.Config
	clock      clock.Clock
	logger     logx.Logger
	dispatch   *dispatch.Service
	sweep      *sweep.Service
	deliveries *delivery.Service
	close      func()
}

// opener builds services for one command run.
type opener func(ctx context.Context) (*services, error)

func newServices(store dispatchtx.Store, cfg *config.Config, clk clock.Clock, logger logx.Logger) *services {
	timeout := cfg.Dispatch.OperationTimeout
	d := dispatch.NewService(store, dispatch.Config{
		OfferWindow:      cfg.Dispatch.OfferWindow,
		CandidateWindows: cfg.Dispatch.CandidateWindows,
		OperationTimeout: timeout,
	}, clk, logger, nil)
	deliveries := delivery.NewDeliveryService(store, clk, timeout, logger)
	processor := events.NewProcessor(d, deliveries, logger)

	sw := sweep.NewService(store, redispatch.NewInline(processor.HandleTask), sweep.Config{
		Batch:            cfg.Dispatch.SweepBatch,
		ParkedRetryAfter: cfg.Dispatch.ParkedRetryAfter,
		OperationTimeout: timeout,
	}, clk, logger, nil)

	return &services{
		cfg:        cfg,
		clock:      clk,
		logger:     logger,
		dispatch:   d,
		sweep:      sw,
		deliveries: deliveries,
		close:      func() {},
	}
}

// openPostgres connects with settings from the environment only; command
// line flags belong to dispatchctl.
func openPostgres(ctx context.Context) (*services, error) {
	cfg, err := config.LoadArgs(nil)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := repository.NewPool(connectCtx, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := newServices(repository.NewDispatchRepo(pool), cfg, clock.Real{}, logger)
	s.close = pool.Close
	return s, nil
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Operate the courier offer dispatcher",
		Long:          "dispatchctl runs dispatcher operations directly against the database.\nConnection settings come from the same environment variables as the service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newDispatchCmd(open),
		newSweepCmd(open),
		newHistoryCmd(open),
		newCompleteCmd(open),
		newCancelCmd(open),
		newTokenCmd(open),
	)
	return root
}

// withServices opens services for the command and closes them afterwards.
func withServices(cmd *cobra.Command, open opener, fn func(ctx context.Context, s *services) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(level string) logx.Logger {
	lvl, err := logx.ParseLevel(level)
	if err != nil {
		lvl, _ = logx.ParseLevel("warn")
	}
	return logx.NewSlogAdapter(newSlog(os.Stderr, lvl))
}
