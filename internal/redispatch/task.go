// Package redispatch hands deliveries back to the dispatcher after an offer
// was declined or expired. Hand-off is best-effort: a task that cannot be
// delivered is logged and counted, and the sweeper picks the delivery up
// again once it has been pending for long enough.
package redispatch

import (
	"context"
	"errors"
	"time"

	"courier-dispatch/internal/apperr"
)

// Reasons a delivery is sent back to the dispatcher.
const (
	ReasonDeclined      = "declined"
	ReasonExpired       = "expired"
	ReasonAcceptExpired = "accept_expired"
	ReasonParked        = "parked"
)

var (
	// ErrQueueFull is returned when the local queue has no room.
	ErrQueueFull = errors.New("redispatch queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("redispatch queue closed")
)

// Task asks for one more dispatch round of a delivery.
type Task struct {
	DeliveryID string
	Reason     string
	Attempt    int
	EnqueuedAt time.Time
}

// Enqueuer accepts redispatch tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// HandleFunc runs one dispatch round for a task.
type HandleFunc func(ctx context.Context, t Task) error

// Done reports whether err ends the task: success, or an outcome that
// retrying cannot change (another actor already moved the delivery, or it is gone).
func Done(err error) bool {
	return err == nil ||
		errors.Is(err, apperr.ErrConflict) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrInvalid)
}

// Inline runs the handler synchronously in the caller's goroutine.
type Inline struct {
	handle HandleFunc
}

// NewInline returns an Enqueuer that dispatches before returning.
func NewInline(handle HandleFunc) *Inline {
	return &Inline{handle: handle}
}

// Enqueue runs the task once. Outcomes accepted by Done are not errors.
func (i *Inline) Enqueue(ctx context.Context, t Task) error {
	if t.Attempt == 0 {
		t.Attempt = 1
	}
	if err := i.handle(ctx, t); !Done(err) {
		return err
	}
	return nil
}

// Nop drops every task. Useful where the sweeper alone is trusted to retry.
type Nop struct{}

// Enqueue does nothing.
func (Nop) Enqueue(context.Context, Task) error { return nil }
