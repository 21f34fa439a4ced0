// Package events provides in-process pub/sub for booking lifecycle
// notifications. The UI layer subscribes to refresh views without polling the
// engine.
package events

import (
	"sync"
	"time"
)

// Type tags an event.
type Type string

const (
	TypeBookingCreated    Type = "booking.created"
	TypeBookingCancelled  Type = "booking.cancelled"
	TypePaymentReconciled Type = "payment.reconciled"
	TypeSessionExpired    Type = "session.expired"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type
	BookingID int64
	BillID    int64
	At        time.Time
}

// Handler reacts to an event. Handlers run synchronously on the publishing
// goroutine; a handler that blocks blocks the engine.
type Handler func(Event)

// Bus fans events out to subscribers by type.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Handler
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], h)
}

// Publish notifies subscribers of the event's type.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[e.Type]...)
	b.mu.RUnlock()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, h := range handlers {
		h(e)
	}
}
