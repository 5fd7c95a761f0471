// Package events is an in-process bus for reservation lifecycle events.
package events

import (
	"sync"
	"time"

	"nilecruise/internal/models"
)

const (
	ReservationCommitted = "reservation.committed"
	ReservationConfirmed = "reservation.confirmed"
	ReservationCancelled = "reservation.cancelled"
	// ReservationReplaced is published for the old reservation of a reschedule.
	ReservationReplaced = "reservation.replaced"
)

// Event describes one change to a reservation.
type Event struct {
	Type        string
	Reservation models.Reservation
	// ReplacedBy is the new reservation id for ReservationReplaced.
	ReplacedBy int64
	At         time.Time
}

// Handler reacts to an event. Errors are reported to the bus error hook and
// never stop delivery to other handlers.
type Handler func(Event) error

// Bus delivers events synchronously to subscribers of the event type.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	onError     func(Event, error)
	now         func() time.Time
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler), now: time.Now}
}

// Subscribe registers handler for the given event types.
func (b *Bus) Subscribe(handler Handler, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// OnError sets the hook called when a handler fails.
func (b *Bus) OnError(fn func(Event, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Publish notifies the subscribers of ev.Type. A nil bus drops the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[ev.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if ev.At.IsZero() {
		ev.At = b.now()
	}
	for _, h := range handlers {
		if err := h(ev); err != nil && onError != nil {
			onError(ev, err)
		}
	}
}
