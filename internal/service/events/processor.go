package events

import (
	"context"
	"errors"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/redispatch"
)

// Processor processes delivery events
type Processor struct {
	dispatcher Dispatcher
	lifecycle  Lifecycle
	logger     logx.Logger
	factory    *actionFactory
}

// NewProcessor creates a new events.Processor
func NewProcessor(d Dispatcher, l Lifecycle, logger logx.Logger) *Processor {
	if logger == nil {
		logger = logx.Nop()
	}
	p := &Processor{
		dispatcher: d,
		lifecycle:  l,
		logger:     logger,
	}
	p.factory = newActionFactory(p.onCreated, p.onRedispatch, p.onCancelled, p.onCompleted)
	return p
}

// Handle processes a single events.Event. Unknown types are ignored.
func (p *Processor) Handle(ctx context.Context, e Event) error {
	if p.factory == nil {
		return nil
	}
	fn, ok := p.factory.get(e.Type)
	if !ok {
		p.logger.Debug("event ignored",
			logx.String("event_type", e.Type),
			logx.String("delivery_id", e.DeliveryID),
		)
		return nil
	}
	return fn(ctx, e)
}

// HandleTask runs one dispatch round for a redispatch task. The error is
// returned as is so the queue can tell transient failures from final ones.
func (p *Processor) HandleTask(ctx context.Context, t redispatch.Task) error {
	_, err := p.dispatcher.Dispatch(ctx, t.DeliveryID)
	return err
}

// settled drops outcomes that mean somebody else already moved the delivery.
func settled(err error) error {
	if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

func (p *Processor) onCreated(ctx context.Context, e Event) error {
	if _, err := p.lifecycle.Ensure(ctx, e.DeliveryID); err != nil {
		return err
	}
	_, err := p.dispatcher.Dispatch(ctx, e.DeliveryID)
	return settled(err)
}

func (p *Processor) onRedispatch(ctx context.Context, e Event) error {
	return settled(p.HandleTask(ctx, e.Task()))
}

func (p *Processor) onCancelled(ctx context.Context, e Event) error {
	_, err := p.lifecycle.Cancel(ctx, e.DeliveryID)
	return settled(err)
}

func (p *Processor) onCompleted(ctx context.Context, e Event) error {
	_, err := p.lifecycle.Complete(ctx, e.DeliveryID)
	return settled(err)
}
