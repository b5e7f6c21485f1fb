package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/service/events"
)

// HandleFunc processes a single events.Event from Kafka
type HandleFunc func(context.Context, events.Event) error

const (
	defaultHandleAttempts = 3
	defaultRetryDelay     = 200 * time.Millisecond
)

var newConsumerGroup = sarama.NewConsumerGroup

// Consumer wraps a Sarama consumer group and dispatches events to a handler
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler HandleFunc
	logger  logx.Logger

	attempts   int
	retryDelay time.Duration
}

// NewConsumer creates a new Kafka consumer. It returns nil, nil when Kafka is not configured.
func NewConsumer(logger logx.Logger, brokers []string, groupID, topic string, h HandleFunc) (*Consumer, error) {
	// не стартую если у кафки нет настроек
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" || strings.TrimSpace(groupID) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logx.Nop()
	}

	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := newConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:      group,
		topic:      topic,
		handler:    h,
		logger:     logger,
		attempts:   defaultHandleAttempts,
		retryDelay: defaultRetryDelay,
	}, nil
}

// Run starts the consumer
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}

	h := &groupHandler{c: c}

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("kafka consume error", logx.Err(err))
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close closes the consumer group.
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	return c.group.Close()
}

type groupHandler struct{ c *Consumer }

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var dto EventDTO
		if err := json.Unmarshal(msg.Value, &dto); err != nil {
			h.c.logger.Warn("kafka bad json", logx.Err(err), logx.Int64("offset", msg.Offset))
			sess.MarkMessage(msg, "")
			continue
		}
		ev := ToDomain(dto)
		if ev.DeliveryID == "" {
			h.c.logger.Warn("kafka empty delivery_id", logx.String("event_type", ev.Type))
			sess.MarkMessage(msg, "")
			continue
		}

		if err := h.handle(sess.Context(), ev); err != nil {
			// доставку подберет sweep, partition не блокируем
			h.c.logger.Error("kafka handle failed, skipping message",
				logx.String("delivery_id", ev.DeliveryID),
				logx.String("event_type", ev.Type),
				logx.Err(err),
			)
		}

		sess.MarkMessage(msg, "")
	}
	return nil
}

// handle retries transient handler failures a few times before giving up.
func (h *groupHandler) handle(ctx context.Context, ev events.Event) error {
	attempts := max(1, h.c.attempts)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = h.c.handler(ctx, ev)
		if err == nil || isPermanent(err) {
			return err
		}
		if attempt < attempts && !sleepCtx(ctx, h.c.retryDelay*time.Duration(attempt)) {
			return err
		}
	}
	return err
}

func isPermanent(err error) bool {
	var p PermanentError
	return errors.As(err, &p) || apperr.IsDomain(err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
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
