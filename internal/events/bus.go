package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(event *Event)

// Bus is a simple in-process publish/subscribe bus.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]Handler
	wildcards []Handler
	log       zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type. The returned
// function removes the subscription; long-lived subscribers such as
// websocket connections call it on disconnect.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.wildcards)
	b.wildcards = append(b.wildcards, handler)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.wildcards[idx] = nil
	}
}

// Emit publishes an event to all matching subscribers and logs it.
func (b *Bus) Emit(eventType EventType, module string, data interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      toMap(data),
		Module:    module,
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	handlers = append(handlers, b.wildcards...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(event)
		}
	}

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Msg("Event emitted")
}

// toMap converts typed event data to the wire representation.
func toMap(data interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	if m, ok := data.(map[string]interface{}); ok {
		return m
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	return result
}
