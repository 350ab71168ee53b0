// Package membus provides an in-memory implementation of eventbus.EventBus
// backed by a bounded worker pool.
package membus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/eventbus"
	"github.com/rush86999/atomagent/logging"
	"google.golang.org/grpc/codes"
)

const (
	defaultWorkers = 100
	queueDepth     = 500
	stackFrames    = 5
)

// ErrWaitTimeout is returned when Wait or Shutdown give up before handlers
// have finished.
var ErrWaitTimeout = errors.NewC("membus: timeout waiting for handlers to finish", codes.DeadlineExceeded)

type queueState struct {
	handlers []eventbus.Handler
	counter  atomic.Uint64
}

// Option configures the bus.
type Option func(*Bus)

// WithWorkerPool sets the number of worker goroutines. Zero runs each handler
// in its own goroutine.
func WithWorkerPool(size int) Option {
	return func(b *Bus) {
		b.workers = size
	}
}

// New returns a new in-memory bus. The logger attached to ctx is passed to
// handlers.
func New(ctx context.Context, opts ...Option) *Bus {
	b := &Bus{
		subscriberCtx: logging.With(ctx, logging.FromContext(ctx).Named("eventbus")),
		workers:       defaultWorkers,
		jobs:          make(chan job, queueDepth),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type job struct {
	ctx     context.Context
	handler eventbus.Handler
	msg     *eventbus.Message
}

// Bus is an in-memory EventBus.
type Bus struct {
	subscribers      map[string][]eventbus.Handler
	queueSubscribers map[string]*queueState
	subscriberCtx    context.Context

	mu sync.Mutex
	wg sync.WaitGroup

	jobs    chan job
	workers int
	started bool
	closed  bool
}

var _ eventbus.EventBus = (*Bus)(nil)

// Subscribe registers a handler for broadcast messages.
func (b *Bus) Subscribe(topic string, handler eventbus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = make(map[string][]eventbus.Handler)
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish sends a message to all subscribers. Messages published after
// Shutdown are dropped.
func (b *Bus) Publish(topic string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready() {
		return
	}
	handlers := b.subscribers[topic]
	if len(handlers) == 0 {
		return
	}

	ctx := b.topicContext(topic)
	for _, handler := range handlers {
		b.dispatch(ctx, handler, eventbus.NewMessage(uuid.NewString(), topic, data))
	}
}

// SubscribeQueue registers a handler for queue messages.
func (b *Bus) SubscribeQueue(topic string, handler eventbus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queueSubscribers == nil {
		b.queueSubscribers = make(map[string]*queueState)
	}
	if b.queueSubscribers[topic] == nil {
		b.queueSubscribers[topic] = &queueState{}
	}
	b.queueSubscribers[topic].handlers = append(b.queueSubscribers[topic].handlers, handler)
}

// Enqueue sends a message to one queue subscriber, chosen round robin.
func (b *Bus) Enqueue(topic string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready() {
		return
	}
	qs, ok := b.queueSubscribers[topic]
	if !ok || len(qs.handlers) == 0 {
		return
	}

	idx := qs.counter.Add(1) - 1
	handler := qs.handlers[idx%uint64(len(qs.handlers))]
	b.dispatch(b.topicContext(topic), handler, eventbus.NewMessage(uuid.NewString(), topic, data))
}

// Shutdown stops accepting messages and waits for in-flight handlers.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		if b.started && b.workers > 0 {
			close(b.jobs)
		}
	}
	b.mu.Unlock()

	return b.Wait(ctx)
}

// Wait blocks until all pending messages are processed.
func (b *Bus) Wait(ctx context.Context) error {
	c := make(chan struct{})
	go func() {
		defer close(c)
		b.wg.Wait()
	}()
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return errors.Mark(ErrWaitTimeout, 0)
	}
}

// ready lazily starts the workers. Must be called with mu held.
func (b *Bus) ready() bool {
	if b.closed {
		return false
	}
	if !b.started {
		for range b.workers {
			go b.worker()
		}
		b.started = true
	}
	return true
}

func (b *Bus) topicContext(topic string) context.Context {
	return logging.With(b.subscriberCtx, logging.FromContext(b.subscriberCtx).Named(topic))
}

// dispatch must be called with mu held.
func (b *Bus) dispatch(ctx context.Context, handler eventbus.Handler, msg *eventbus.Message) {
	b.wg.Add(1)
	if b.workers == 0 {
		go b.execute(ctx, handler, msg)
		return
	}
	b.jobs <- job{ctx: ctx, handler: handler, msg: msg}
}

func (b *Bus) worker() {
	for job := range b.jobs {
		b.execute(job.ctx, job.handler, job.msg)
	}
}

func (b *Bus) execute(ctx context.Context, handler eventbus.Handler, msg *eventbus.Message) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.FromPanic(r, 2)
			logging.Errorw(ctx, "eventbus: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(0, stackFrames))
		}
		b.wg.Done()
	}()
	if err := handler(ctx, msg); err != nil {
		logging.Errorw(ctx, "eventbus: handler error", "error", err, "message_id", msg.ID)
	}
}
