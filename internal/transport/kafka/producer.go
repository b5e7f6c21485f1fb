package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"courier-dispatch/internal/logx"
	"courier-dispatch/internal/redispatch"
	"courier-dispatch/internal/service/events"
)

var newAsyncProducer = sarama.NewAsyncProducer

// FailureCounter counts publishes the broker did not acknowledge.
type FailureCounter interface {
	RedispatchFailed(stage string)
}

// Producer publishes redispatch tasks as delivery events. Messages are keyed
// by delivery id so all events of one delivery land in one partition.
//
// Enqueue never waits for the broker: acks and sarama's retries happen in the
// background and failures end up in the log and in FailureCounter.
type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   logx.Logger
	failures FailureCounter
	drained  chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ redispatch.Enqueuer = (*Producer)(nil)

// NewProducer creates an asynchronous producer for topic. failures may be nil.
func NewProducer(logger logx.Logger, brokers []string, topic string, failures FailureCounter) (*Producer, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka producer: brokers and topic are required")
	}
	if logger == nil {
		logger = logx.Nop()
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	p, err := newAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return newProducer(p, topic, logger, failures), nil
}

func newProducer(p sarama.AsyncProducer, topic string, logger logx.Logger, failures FailureCounter) *Producer {
	pr := &Producer{
		producer: p,
		topic:    topic,
		logger:   logger,
		failures: failures,
		drained:  make(chan struct{}),
	}
	go pr.drain()
	return pr
}

// Enqueue hands t to the producer. A full input buffer is reported as
// redispatch.ErrQueueFull instead of blocking.
func (p *Producer) Enqueue(ctx context.Context, t redispatch.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Attempt == 0 {
		t.Attempt = 1
	}

	b, err := json.Marshal(FromDomain(events.FromTask(t)))
	if err != nil {
		return Permanent(fmt.Errorf("encode redispatch event: %w", err))
	}

	msg := &sarama.ProducerMessage{
		Topic:    p.topic,
		Key:      sarama.StringEncoder(t.DeliveryID),
		Value:    sarama.ByteEncoder(b),
		Metadata: t,
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return redispatch.ErrClosed
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	default:
		return fmt.Errorf("publish redispatch %s: %w", t.DeliveryID, redispatch.ErrQueueFull)
	}
}

// drain reads acks and errors until both channels are closed by AsyncClose.
func (p *Producer) drain() {
	defer close(p.drained)
	successes, errs := p.producer.Successes(), p.producer.Errors()
	for successes != nil || errs != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			t, _ := msg.Metadata.(redispatch.Task)
			p.logger.Debug("redispatch published",
				logx.String("delivery_id", t.DeliveryID),
				logx.String("reason", t.Reason),
				logx.Int("partition", int(msg.Partition)),
				logx.Int64("offset", msg.Offset),
			)
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			var t redispatch.Task
			if perr.Msg != nil {
				t, _ = perr.Msg.Metadata.(redispatch.Task)
			}
			if p.failures != nil {
				p.failures.RedispatchFailed("publish")
			}
			p.logger.Warn("redispatch publish failed",
				logx.String("delivery_id", t.DeliveryID),
				logx.String("reason", t.Reason),
				logx.Err(perr.Err),
			)
		}
	}
}

// Close flushes buffered messages and waits until their results are drained.
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.producer.AsyncClose()
	}
	p.mu.Unlock()
	<-p.drained
	return nil
}
