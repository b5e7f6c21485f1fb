package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/service/events"
	testlog "courier-dispatch/internal/testutil"
)

type fakeGroup struct {
	consumeErr error
	consumed   atomic.Int32
	closed     atomic.Bool
	onConsume  func()
}

func (g *fakeGroup) Consume(context.Context, []string, sarama.ConsumerGroupHandler) error {
	g.consumed.Add(1)
	if g.onConsume != nil {
		g.onConsume()
	}
	return g.consumeErr
}

func (g *fakeGroup) Errors() <-chan error {
	ch := make(chan error)
	close(ch)
	return ch
}

func (g *fakeGroup) Close() error {
	g.closed.Store(true)
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

func TestNewConsumer_SkipsWhenNoKafkaConfig(t *testing.T) {
	t.Parallel()

	rec := testlog.New()

	got, err := NewConsumer(rec.Logger(), nil, "gid", "topic", func(context.Context, events.Event) error { return nil })
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = NewConsumer(rec.Logger(), []string{"b:9092"}, "", "topic", nil)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = NewConsumer(rec.Logger(), []string{"b:9092"}, "gid", "   ", nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

// Tests below swap the package-level constructor and must not run in parallel.

func TestNewConsumer_ReturnsErrorWhenSaramaFails(t *testing.T) {
	orig := newConsumerGroup
	t.Cleanup(func() { newConsumerGroup = orig })

	sentinel := errors.New("boom")
	newConsumerGroup = func(_ []string, _ string, _ *sarama.Config) (sarama.ConsumerGroup, error) {
		return nil, sentinel
	}

	rec := testlog.New()
	got, err := NewConsumer(rec.Logger(), []string{"b:9092"}, "gid", "topic", nil)
	require.ErrorIs(t, err, sentinel)
	require.Nil(t, got)
}

func TestConsumer_RunStopsOnCancelAndCloses(t *testing.T) {
	orig := newConsumerGroup
	t.Cleanup(func() { newConsumerGroup = orig })

	ctx, cancel := context.WithCancel(context.Background())
	group := &fakeGroup{onConsume: cancel}
	newConsumerGroup = func(_ []string, _ string, cfg *sarama.Config) (sarama.ConsumerGroup, error) {
		require.Equal(t, sarama.OffsetOldest, cfg.Consumer.Offsets.Initial)
		return group, nil
	}

	c, err := NewConsumer(testlog.New().Logger(), []string{"b:9092"}, "gid", "topic", nil)
	require.NoError(t, err)
	require.NotNil(t, c)

	require.ErrorIs(t, c.Run(ctx), context.Canceled)
	require.Equal(t, int32(1), group.consumed.Load())

	require.NoError(t, c.Close())
	require.True(t, group.closed.Load())
}

func TestConsumer_NilIsSafe(t *testing.T) {
	t.Parallel()

	var c *Consumer
	require.NoError(t, c.Run(context.Background()))
	require.NoError(t, c.Close())
}
