package membus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	atomerrors "github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/eventbus"
	"github.com/rush86999/atomagent/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	return logging.With(t.Context(), logging.NewNopLogger())
}

func TestBus_BasicPubSub(t *testing.T) {
	bus := New(testContext(t))

	var called atomic.Bool
	bus.Subscribe(eventbus.TopicTokenSaved, func(ctx context.Context, msg *eventbus.Message) error {
		assert.Equal(t, eventbus.TokenEvent{UserID: "u1", Resource: "atom_gmail"}, msg.Data)
		called.Store(true)
		return nil
	})

	bus.Publish(eventbus.TopicTokenSaved, eventbus.TokenEvent{UserID: "u1", Resource: "atom_gmail"})

	assert.Eventually(t, called.Load, time.Second, time.Millisecond, "subscriber should have been called")
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New(testContext(t))

	var called []int
	var mu sync.Mutex
	for i := range 10 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, i)
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))

	slices.Sort(called) // Execution order isn't guaranteed.
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, called)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := New(testContext(t))
	bus.Publish("nobody", "hello")
	bus.Enqueue("nobody", "hello")
	assert.NoError(t, bus.Wait(t.Context()))
}

func TestBus_WaitTimeout(t *testing.T) {
	bus := New(testContext(t))

	release := make(chan struct{})
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		<-release
		return nil
	})
	bus.Publish("topic", "hello")

	ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond)
	defer cancel()

	err := bus.Wait(ctx)
	require.Error(t, err)
	assert.True(t, atomerrors.Is(err, ErrWaitTimeout))

	close(release)
	assert.NoError(t, bus.Wait(t.Context()))
}

func TestBus_HandlerErrorAndPanicAreContained(t *testing.T) {
	bus := New(testContext(t))

	var after atomic.Int32
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		return errors.New("subscriber error")
	})
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		panic("subscriber panic")
	})
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		after.Add(1)
		return nil
	})

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))
	assert.Equal(t, int32(1), after.Load())
}

func TestBus_WorkerPoolConcurrency(t *testing.T) {
	bus := New(testContext(t), WithWorkerPool(10))

	var mu sync.Mutex
	var concurrent, maxConcurrent, called int

	for range 100 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			mu.Lock()
			concurrent++
			called++
			maxConcurrent = max(maxConcurrent, concurrent)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))

	assert.Equal(t, 100, called)
	assert.LessOrEqual(t, maxConcurrent, 10, "should not exceed worker pool size")
}

func TestBus_UnboundedMode(t *testing.T) {
	bus := New(testContext(t), WithWorkerPool(0))

	var called atomic.Int32
	for range 10 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			called.Add(1)
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))
	assert.Equal(t, int32(10), called.Load())
}

func TestBus_QueueRoundRobin(t *testing.T) {
	bus := New(testContext(t))

	var first, second atomic.Int32
	bus.SubscribeQueue("jobs", func(ctx context.Context, msg *eventbus.Message) error {
		first.Add(1)
		return nil
	})
	bus.SubscribeQueue("jobs", func(ctx context.Context, msg *eventbus.Message) error {
		second.Add(1)
		return nil
	})

	for range 10 {
		bus.Enqueue("jobs", "work")
	}
	require.NoError(t, bus.Wait(t.Context()))

	assert.Equal(t, int32(5), first.Load())
	assert.Equal(t, int32(5), second.Load())
}

func TestBus_GracefulShutdown(t *testing.T) {
	bus := New(testContext(t), WithWorkerPool(10))

	var completed atomic.Int32
	for range 50 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			time.Sleep(time.Millisecond * 5)
			completed.Add(1)
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Shutdown(t.Context()))
	assert.Equal(t, int32(50), completed.Load(), "all subscribers should complete")

	// Dropped, not a panic on the closed channel.
	bus.Publish("topic", "late")
	require.NoError(t, bus.Shutdown(t.Context()))
	assert.Equal(t, int32(50), completed.Load())
}

func TestBus_MessageMetadata(t *testing.T) {
	bus := New(testContext(t))

	var msg *eventbus.Message
	bus.Subscribe("topic", func(ctx context.Context, m *eventbus.Message) error {
		msg = m
		return nil
	})

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(t.Context()))

	require.NotNil(t, msg)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "topic", msg.Topic)
	assert.Equal(t, "hello", msg.Data)
	assert.Equal(t, 1, msg.Attempt)
}

func TestPublishNilBus(t *testing.T) {
	assert.NotPanics(t, func() {
		eventbus.Publish(nil, eventbus.TopicTokenRevoked, eventbus.TokenEvent{})
	})
}
