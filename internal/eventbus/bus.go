package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeRequest  EventType = "request"
	EventTypeLeds     EventType = "leds"
	EventTypeMute     EventType = "mute"
	EventTypeSettings EventType = "settings"
	EventTypeReset    EventType = "reset"
	EventTypeAmbient  EventType = "ambient"
)

// Default configuration
const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 256
)

// Event represents a controller state change or a served request.
// Data holds copies only, handlers never see controller-owned memory.
type Event struct {
	Type EventType
	Time time.Time // stamped by Publish when zero
	Data map[string]any
}

// Publisher is the publishing side of the bus.
type Publisher interface {
	Publish(event Event)
}

// Handler is a function that handles events
type Handler func(Event)

type subscription struct {
	handler Handler
	queue   int
}

type work struct {
	event   Event
	handler Handler
}

// Bus routes events to handlers through a fixed set of workers.
// Each subscription is pinned to one worker queue, so a handler sees the
// events it subscribed to in publish order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscription
	next     int

	queues []chan work
	wg     sync.WaitGroup

	dropped atomic.Uint64

	// Closing this channel signals publishers to stop
	closing   chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates an event bus with workerCount queues of queueSize each.
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers: make(map[EventType][]subscription),
		queues:   make([]chan work, workerCount),
		closing:  make(chan struct{}),
		now:      time.Now,
	}

	for i := range b.queues {
		b.queues[i] = make(chan work, queueSize)
		b.wg.Add(1)
		go b.worker(i, b.queues[i])
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

func (b *Bus) worker(id int, queue <-chan work) {
	defer b.wg.Done()

	for w := range queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type.
// Subscriptions are spread over the workers round-robin.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.SubscribeTypes(handler, eventType)
}

// SubscribeTypes registers one handler for several event types on a single
// worker queue, so it sees all of them in publish order. Consumers whose
// handlers write the same state across types must subscribe this way.
func (b *Bus) SubscribeTypes(handler Handler, eventTypes ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{
		handler: handler,
		queue:   b.next % len(b.queues),
	}
	b.next++
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], sub)
	}
}

// Publish queues the event for every subscribed handler without blocking.
// When a queue is full or the bus is closing the event is dropped for that handler.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = b.now()
	}

	b.mu.RLock()
	subs := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-b.closing:
			b.dropped.Add(1)
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case b.queues[sub.queue] <- work{event: event, handler: sub.handler}:
		default:
			b.dropped.Add(1)
			log.Warn().
				Str("event_type", string(event.Type)).
				Int("worker", sub.queue).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Dropped returns the number of deliveries dropped since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, drains the queues and waits for the workers
// until ctx expires. Publish must not be called concurrently with Close.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
		for _, q := range b.queues {
			close(q)
		}
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Uint64("dropped", b.Dropped()).Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
