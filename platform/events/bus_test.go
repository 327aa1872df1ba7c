package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingEvent struct{ BaseEvent }

func (pingEvent) EventName() string { return "test.ping" }

func TestPublishRunsAllHandlers(t *testing.T) {
	bus := NewInMemoryBus(nil)
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
			calls.Add(1)
			return nil
		}))
	}

	bus.Publish(context.Background(), pingEvent{NewBaseEvent()})
	bus.Wait()

	assert.Equal(t, int32(3), calls.Load())
}

func TestPublishSurvivesPanickingHandler(t *testing.T) {
	bus := NewInMemoryBus(nil)
	var called atomic.Bool
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error { panic("boom") }))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		called.Store(true)
		return nil
	}))

	bus.Publish(context.Background(), pingEvent{NewBaseEvent()})
	bus.Wait()

	assert.True(t, called.Load())
}

func TestPublishIgnoresCallerCancellation(t *testing.T) {
	bus := NewInMemoryBus(nil)
	var ctxErr atomic.Value
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, _ Event) error {
		ctxErr.Store(ctx.Err() == nil)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, pingEvent{NewBaseEvent()})
	bus.Wait()

	assert.Equal(t, true, ctxErr.Load())
}

func TestPublishSyncJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus(nil)
	errA := errors.New("a")
	errB := errors.New("b")
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error { return errA }))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error { return errB }))

	err := bus.PublishSync(context.Background(), pingEvent{NewBaseEvent()})
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestBaseEventIsStampedInUTC(t *testing.T) {
	e := pingEvent{NewBaseEvent()}
	assert.Equal(t, time.UTC, e.OccurredAt().Location())
	assert.WithinDuration(t, time.Now(), e.OccurredAt(), time.Minute)
}
