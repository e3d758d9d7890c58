package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Delivery modes controlling publisher behavior when a subscription's
// buffer is full.
const (
	// DeliveryBlock waits for buffer space (or context cancellation).
	// This is the default and the mode under which delivery to every
	// matching subscription is guaranteed.
	DeliveryBlock = "block"

	// DeliveryDrop discards the event for the saturated subscription and
	// counts a drop.
	DeliveryDrop = "drop"

	// DeliveryTimeout waits up to BusConfig.PublishTimeout, then drops.
	DeliveryTimeout = "timeout"
)

// BusConfig configures the in-process event bus.
type BusConfig struct {
	// BufferSize is the per-subscription event buffer. Defaults to 64.
	BufferSize int `yaml:"bufferSize" env:"BUS_BUFFER_SIZE" default:"64"`

	// WorkerCount bounds the number of concurrently executing async
	// handlers across all subscriptions. Defaults to 8.
	WorkerCount int `yaml:"workerCount" env:"BUS_WORKER_COUNT" default:"8"`

	// DeliveryMode is one of "block", "drop" or "timeout". Defaults to
	// "block".
	DeliveryMode string `yaml:"deliveryMode" env:"BUS_DELIVERY_MODE" default:"block"`

	// PublishTimeout bounds the wait per saturated subscription in
	// "timeout" mode.
	PublishTimeout time.Duration `yaml:"publishTimeout" env:"BUS_PUBLISH_TIMEOUT" default:"5s"`
}

// normalize fills defaults for zero-valued fields.
func (c *BusConfig) normalize() {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 8
	}
	if c.DeliveryMode == "" {
		c.DeliveryMode = DeliveryBlock
	}
}

// Bus is the in-process publish/subscribe router connecting modules. Every
// subscription gets a dedicated delivery goroutine reading a buffered
// channel, so events for one subscription are handled strictly in publish
// order while subscriptions never block each other. Async subscriptions
// additionally funnel handler execution through a fixed worker pool that
// bounds total handler concurrency.
//
// The subscription table is the only kernel structure mutated concurrently
// by arbitrary modules; it is guarded by a single RWMutex so subscribe,
// unsubscribe and dispatch never observe a torn table.
type Bus struct {
	config BusConfig
	logger Logger

	mu            sync.RWMutex
	subscriptions map[string]map[string]*busSubscription // pattern -> id -> sub

	mirrorMu sync.RWMutex
	mirror   MirrorSink

	workerPool chan func()
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// busSubscription implements Subscription for the in-process bus.
type busSubscription struct {
	id      string
	pattern string
	handler EventHandler
	isAsync bool

	eventCh  chan Event
	done     chan struct{}
	finished chan struct{}

	mu        sync.Mutex
	cancelled bool
}

func (s *busSubscription) Pattern() string { return s.pattern }
func (s *busSubscription) ID() string      { return s.id }
func (s *busSubscription) IsAsync() bool   { return s.isAsync }

// Cancel stops delivery. Idempotent.
func (s *busSubscription) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return nil
	}
	s.cancelled = true
	close(s.done)
	return nil
}

func (s *busSubscription) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// NewBus creates an event bus. Call Start before publishing.
func NewBus(config BusConfig, logger Logger) *Bus {
	config.normalize()
	return &Bus{
		config:        config,
		logger:        logger,
		subscriptions: make(map[string]map[string]*busSubscription),
	}
}

// SetMirror attaches a durable mirror sink. Every published event is
// appended to the sink best-effort: append errors are logged and never
// block or fail in-process delivery. Passing nil detaches the sink.
func (b *Bus) SetMirror(sink MirrorSink) {
	b.mirrorMu.Lock()
	b.mirror = sink
	b.mirrorMu.Unlock()
}

// Mirror returns the attached mirror sink, or nil.
func (b *Bus) Mirror() MirrorSink {
	b.mirrorMu.RLock()
	defer b.mirrorMu.RUnlock()
	return b.mirror
}

// Start brings up the worker pool. Idempotent.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.workerPool = make(chan func(), b.config.WorkerCount)
	for i := 0; i < b.config.WorkerCount; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	b.started = true
	return nil
}

// Stop cancels all delivery goroutines and waits for them within the
// context deadline.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.cancel()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrBusShutdownTimeout
	}
}

// Publish routes an event to every subscription whose pattern matches the
// event channel. Events are stamped with an ID and timestamp if the caller
// left them unset. With no matching subscriptions the call is a no-op.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if err := ValidateChannel(event.Channel); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	if !b.started {
		b.mu.RUnlock()
		return ErrBusNotStarted
	}
	var matching []*busSubscription
	for pattern, subs := range b.subscriptions {
		if MatchChannel(pattern, event.Channel) {
			for _, sub := range subs {
				matching = append(matching, sub)
			}
		}
	}
	b.mu.RUnlock()

	b.mirrorAppend(ctx, event)

	for _, sub := range matching {
		if sub.isCancelled() {
			continue
		}
		if !b.enqueue(ctx, sub, event) {
			b.dropped.Add(1)
			b.logger.Warn("Event dropped for saturated subscription",
				"channel", event.Channel, "subscription", sub.id, "mode", b.config.DeliveryMode)
		}
	}
	return nil
}

// enqueue places the event on the subscription buffer according to the
// configured delivery mode. Returns false when the event was dropped.
func (b *Bus) enqueue(ctx context.Context, sub *busSubscription, event Event) bool {
	switch b.config.DeliveryMode {
	case DeliveryDrop:
		select {
		case sub.eventCh <- event:
			return true
		case <-sub.done:
			return true // cancelled mid-publish, not a drop
		default:
			return false
		}
	case DeliveryTimeout:
		timer := time.NewTimer(b.config.PublishTimeout)
		defer timer.Stop()
		select {
		case sub.eventCh <- event:
			return true
		case <-sub.done:
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	default: // DeliveryBlock
		select {
		case sub.eventCh <- event:
			return true
		case <-sub.done:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

// Subscribe registers a handler for a channel pattern. Matching events are
// delivered on the subscription's own goroutine in publish order.
func (b *Bus) Subscribe(ctx context.Context, pattern string, handler EventHandler) (Subscription, error) {
	return b.subscribe(ctx, pattern, handler, false)
}

// SubscribeAsync registers a handler whose execution is bounded by the bus
// worker pool. Per-subscription ordering still holds: the next event is not
// dispatched until the previous handler invocation returns.
func (b *Bus) SubscribeAsync(ctx context.Context, pattern string, handler EventHandler) (Subscription, error) {
	return b.subscribe(ctx, pattern, handler, true)
}

func (b *Bus) subscribe(_ context.Context, pattern string, handler EventHandler, isAsync bool) (Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerNil
	}
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	sub := &busSubscription{
		id:       uuid.New().String(),
		pattern:  pattern,
		handler:  handler,
		isAsync:  isAsync,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil, ErrBusNotStarted
	}
	sub.eventCh = make(chan Event, b.config.BufferSize)
	if _, ok := b.subscriptions[pattern]; !ok {
		b.subscriptions[pattern] = make(map[string]*busSubscription)
	}
	b.subscriptions[pattern][sub.id] = sub
	// The Add must happen while the lock still pins started=true, or a
	// concurrent Stop can reach wg.Wait before this subscription is counted.
	b.wg.Add(1)
	b.mu.Unlock()

	go b.deliver(sub)

	return sub, nil
}

// Unsubscribe cancels a subscription and removes it from the table. Safe
// to call for already-cancelled subscriptions.
func (b *Bus) Unsubscribe(_ context.Context, subscription Subscription) error {
	sub, ok := subscription.(*busSubscription)
	if !ok {
		return ErrUnknownSubscription
	}
	if err := sub.Cancel(); err != nil {
		return err
	}

	b.mu.Lock()
	if subs, ok := b.subscriptions[sub.pattern]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subscriptions, sub.pattern)
		}
	}
	b.mu.Unlock()

	// Give the delivery goroutine a moment to wind down so no handler runs
	// after Unsubscribe returns in the common case.
	select {
	case <-sub.finished:
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// Patterns returns the patterns with at least one live subscription.
func (b *Bus) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	patterns := make([]string, 0, len(b.subscriptions))
	for p := range b.subscriptions {
		patterns = append(patterns, p)
	}
	return patterns
}

// SubscriberCount returns the number of live subscriptions for a pattern.
func (b *Bus) SubscriberCount(pattern string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[pattern])
}

// Stats returns delivered and dropped event counts.
func (b *Bus) Stats() (delivered, dropped uint64) {
	return b.delivered.Load(), b.dropped.Load()
}

// deliver pumps a subscription's buffer, one event at a time.
func (b *Bus) deliver(sub *busSubscription) {
	defer b.wg.Done()
	defer close(sub.finished)

	for {
		if sub.isCancelled() {
			return
		}
		select {
		case <-b.ctx.Done():
			return
		case <-sub.done:
			return
		case event := <-sub.eventCh:
			if sub.isCancelled() {
				return
			}
			if sub.isAsync {
				ran := make(chan struct{})
				select {
				case b.workerPool <- func() {
					defer close(ran)
					b.invoke(sub, event)
				}:
					<-ran
				case <-b.ctx.Done():
					return
				case <-sub.done:
					return
				}
			} else {
				b.invoke(sub, event)
			}
			b.delivered.Add(1)
		}
	}
}

// invoke runs the handler with panic containment. A failing handler is
// logged and isolated: it never reaches the publisher or other
// subscriptions of the same event.
func (b *Bus) invoke(sub *busSubscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			herr := &HandlerError{Channel: event.Channel, Subscription: sub.id, Err: fmt.Errorf("panic: %v", r)}
			b.logger.Error("Event handler panicked", "channel", event.Channel, "subscription", sub.id, "error", herr)
		}
	}()
	if err := sub.handler(b.ctx, event); err != nil {
		herr := &HandlerError{Channel: event.Channel, Subscription: sub.id, Err: err}
		b.logger.Error("Event handler failed", "channel", event.Channel, "subscription", sub.id, "error", herr)
	}
}

// mirrorAppend writes the event to the durable sink, if any, without ever
// blocking in-process delivery.
func (b *Bus) mirrorAppend(ctx context.Context, event Event) {
	sink := b.Mirror()
	if sink == nil {
		return
	}
	go func() {
		if err := sink.Append(context.WithoutCancel(ctx), event); err != nil {
			b.logger.Warn("Mirror sink append failed", "channel", event.Channel, "error", err)
		}
	}()
}

// worker executes queued async handler invocations.
func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case task := <-b.workerPool:
			task()
		}
	}
}
