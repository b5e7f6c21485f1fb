package redispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/logx"
)

type counter interface {
	Inc()
}

type failureRecorder interface {
	RedispatchFailed(stage string)
}

// Config описывает поведение LocalQueue
type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// LocalQueue is a bounded in-process queue drained by a fixed worker pool.
// Transient failures are retried with exponential backoff up to MaxAttempts.
type LocalQueue struct {
	cfg      Config
	handle   HandleFunc
	logger   logx.Logger
	retries  counter
	failures failureRecorder
	sleep    func(context.Context, time.Duration) bool
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	tasks  chan Task
	wg     sync.WaitGroup
}

// NewLocalQueue creates a queue; call Start to run workers.
func NewLocalQueue(cfg Config, handle HandleFunc, logger logx.Logger, retries counter, failures failureRecorder) *LocalQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &LocalQueue{
		cfg:      cfg,
		handle:   handle,
		logger:   logger,
		retries:  retries,
		failures: failures,
		sleep:    sleepWithContext,
		now:      func() time.Time { return time.Now().UTC() },
		tasks:    make(chan Task, cfg.QueueSize),
	}
}

// Start launches the workers. They stop when ctx is done or the queue is closed and drained.
func (q *LocalQueue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.work(ctx)
		}()
	}
}

// Enqueue adds a task without blocking.
func (q *LocalQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.now()
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for the workers to finish.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Len returns the number of queued tasks.
func (q *LocalQueue) Len() int { return len(q.tasks) }

func (q *LocalQueue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q.tasks:
			if !ok {
				return
			}
			q.process(ctx, t)
		}
	}
}

func (q *LocalQueue) process(ctx context.Context, t Task) {
	for attempt := 1; ; attempt++ {
		t.Attempt = attempt
		err := q.handle(ctx, t)
		if Done(err) {
			if err != nil {
				q.logger.Debug("redispatch settled elsewhere",
					logx.String("delivery_id", t.DeliveryID),
					logx.Err(err),
				)
			}
			return
		}
		if ctx.Err() != nil || attempt >= q.cfg.MaxAttempts || !errors.Is(err, apperr.ErrTransient) {
			q.drop(t, err)
			return
		}

		delay := backoff(q.cfg.BaseDelay, q.cfg.MaxDelay, attempt)
		if q.retries != nil {
			q.retries.Inc()
		}
		q.logger.Warn("redispatch retry",
			logx.String("delivery_id", t.DeliveryID),
			logx.String("reason", t.Reason),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		if !q.sleep(ctx, delay) {
			q.drop(t, ctx.Err())
			return
		}
	}
}

func (q *LocalQueue) drop(t Task, err error) {
	q.logger.Error("redispatch dropped",
		logx.String("delivery_id", t.DeliveryID),
		logx.String("reason", t.Reason),
		logx.Int("attempt", t.Attempt),
		logx.Err(err),
	)
	if q.failures != nil {
		q.failures.RedispatchFailed("dropped")
	}
}

// backoff вычисляет задержку повтора
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
