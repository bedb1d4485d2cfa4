// Package events implements an in-process publish/subscribe bus used to
// notify interested components about cache and breaker state changes (the
// routing engine publishes breaker transitions; the cache's event-driven
// invalidation subscribes to every event type), mirroring the
// teacher's eventbus wrapper API shape without depending on an externally
// extracted module.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names one kind of event this module emits.
type Type string

const (
	TypeCacheHit        Type = "cache.hit"
	TypeCacheMiss       Type = "cache.miss"
	TypeCacheInvalidated Type = "cache.invalidated"
	TypeCacheExpired    Type = "cache.expired"
	TypeBreakerOpened   Type = "breaker.opened"
	TypeBreakerClosed   Type = "breaker.closed"
	TypeBreakerHalfOpen Type = "breaker.half_open"
	TypeRequestRouted   Type = "request.routed"
	TypeRequestFailed   Type = "request.failed"
)

// Event is one published occurrence.
type Event struct {
	Type      Type
	Source    string
	Payload   interface{}
	Timestamp time.Time
}

// NewEvent builds an Event stamped with the given time (callers pass wall
// clock time explicitly so the bus itself stays free of hidden clock reads).
func NewEvent(typ Type, source string, payload interface{}, at time.Time) Event {
	return Event{Type: typ, Source: source, Payload: payload, Timestamp: at}
}

// Handler receives published events. Handlers run synchronously in Publish
// and must not block for long; use PublishAsync for fire-and-forget delivery.
type Handler func(Event)

// Bus is a minimal fan-out publish/subscribe bus keyed by event Type.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Handler
	all         []Handler
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Type][]Handler)}
}

// Subscribe registers handler for one event Type and returns an unsubscribe func.
func (b *Bus) Subscribe(typ Type, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[typ] = append(b.subscribers[typ], handler)
	idx := len(b.subscribers[typ]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subscribers[typ]
		if idx < len(handlers) {
			b.subscribers[typ] = append(handlers[:idx], handlers[idx+1:]...)
		}
	}
}

// SubscribeAll registers handler for every event Type published on this bus.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
	idx := len(b.all) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.all) {
			b.all = append(b.all[:idx], b.all[idx+1:]...)
		}
	}
}

// Publish delivers ev synchronously to every matching subscriber.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := append([]Handler{}, b.subscribers[ev.Type]...)
	allHandlers := append([]Handler{}, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	for _, h := range allHandlers {
		h(ev)
	}
}

// PublishAsync delivers ev to every matching subscriber on its own goroutine
// and returns immediately.
func (b *Bus) PublishAsync(ctx context.Context, ev Event) {
	go b.Publish(ctx, ev)
}

// SubscriberCount returns how many handlers are registered for typ, not
// counting SubscribeAll handlers.
func (b *Bus) SubscriberCount(typ Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[typ])
}
