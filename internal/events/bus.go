package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

// wildcard subscribes a handler to every event type.
const wildcard EventType = "*"

// EventBus is an asynchronous publish-subscribe hub. Each delivery runs in
// its own goroutine; a panicking handler is logged and does not affect the
// emitter or other handlers.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers handler for eventType under name. Names identify the
// handler for Unsubscribe and in logs.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{name: name, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeAll registers handler for every event type.
func (eb *EventBus) SubscribeAll(name string, handler HandlerFunc) {
	eb.Subscribe(wildcard, name, handler)
}

// Unsubscribe removes the handler called name from eventType.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers := eb.handlers[eventType]
	filtered := handlers[:0:0]
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	if len(filtered) == 0 {
		delete(eb.handlers, eventType)
	} else {
		eb.handlers[eventType] = filtered
	}
}

// UnsubscribeAll removes a handler registered with SubscribeAll.
func (eb *EventBus) UnsubscribeAll(name string) {
	eb.Unsubscribe(wildcard, name)
}

// snapshot returns the handlers for t, or nil once the bus is stopped.
// Callers must hold eb.mu.
func (eb *EventBus) snapshot(t EventType) []handlerEntry {
	if eb.stopped {
		return nil
	}
	specific, all := eb.handlers[t], eb.handlers[wildcard]
	if len(specific)+len(all) == 0 {
		return nil
	}
	out := make([]handlerEntry, 0, len(specific)+len(all))
	out = append(out, specific...)
	return append(out, all...)
}

// Emit delivers event to its subscribers without waiting for them. Events
// emitted after Stop are dropped.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	// wg.Add happens under the read lock so Stop cannot start waiting
	// between the stopped check and the Add.
	eb.wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h handlerEntry) {
			defer eb.wg.Done()
			_ = deliver(ctx, h, event)
		}(h)
	}
}

// EmitSync delivers event and waits for every handler. It returns the
// first handler error; a panic is reported as an error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	handlers := eb.snapshot(event.Type)
	eb.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h handlerEntry) {
			defer wg.Done()
			if err := deliver(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(h)
	}
	wg.Wait()
	return firstErr
}

func deliver(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop stops accepting events and waits for in-flight handlers. Calling it
// more than once is a no-op.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Debug().Msg("event bus stopped")
}

// StopCh is closed when the bus stops.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for eventType,
// not counting SubscribeAll handlers.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
