// Package event defines the deferred-completion primitives the
// operation core consumes: one-shot events, settable user events,
// reservations, and single-assignment futures. The core never inspects
// how an event is implemented; see the memory subpackage for the
// default in-process system.
package event

import (
	"context"
	"errors"

	"github.com/cqyuan/legion/model/domain"
)

// ErrPoisoned is returned by waits on events whose producer was quashed.
var ErrPoisoned = errors.New("event poisoned")

// Event is an awaitable one-shot signal. Subscribers registered after
// the event has fired are invoked immediately.
type Event interface {
	// Triggered reports whether the event has fired.
	Triggered() bool

	// Poisoned reports whether the event fired with poison.
	Poisoned() bool

	// Subscribe registers fn to run when the event fires. fn receives
	// the poison marker. Subscribers run outside any event lock.
	Subscribe(fn func(poisoned bool))

	// Wait blocks until the event fires or ctx is done. It returns
	// ErrPoisoned when the event fired with poison.
	Wait(ctx context.Context) error
}

// UserEvent is an event triggered explicitly by its owner.
type UserEvent interface {
	Event

	// Trigger fires the event. Firing twice is a no-op.
	Trigger()

	// TriggerWithPoison fires the event carrying the poison marker.
	TriggerWithPoison()
}

// Future is a single-assignment value cell with event semantics.
type Future interface {
	Event

	// Set assigns the value and fires the future. A second Set is a
	// no-op.
	Set(value interface{})

	// SetPoisoned fires the future with poison and no value.
	SetPoisoned()

	// Get blocks for the value. It returns ErrPoisoned for poisoned
	// futures.
	Get(ctx context.Context) (interface{}, error)

	// Value returns the value without blocking; ok is false until the
	// future has fired cleanly.
	Value() (value interface{}, ok bool)
}

// Reservation provides mutual exclusion with FIFO-queued waiters.
type Reservation interface {
	// Acquire blocks until the reservation is held or ctx is done.
	Acquire(ctx context.Context) error

	// Release releases the reservation, waking the oldest waiter.
	Release()
}

// System creates deferred-completion primitives.
type System interface {
	NewUserEvent() UserEvent
	NewFuture() Future
	NewReservation() Reservation

	// Merge returns an event that fires once all inputs have fired.
	// The merged event is poisoned when any input is poisoned.
	Merge(events ...Event) Event

	// Completed returns an already-fired, clean event.
	Completed() Event
}

// FutureMap aggregates futures keyed by domain point.
type FutureMap struct {
	futures map[domain.Point]Future
}

// NewFutureMap returns an empty future map.
func NewFutureMap() *FutureMap {
	return &FutureMap{futures: map[domain.Point]Future{}}
}

// Set records the future for a point, replacing any prior entry.
func (m *FutureMap) Set(p domain.Point, f Future) {
	m.futures[p] = f
}

// Get returns the future for a point.
func (m *FutureMap) Get(p domain.Point) (Future, bool) {
	f, ok := m.futures[p]
	return f, ok
}

// Len returns the number of points with futures.
func (m *FutureMap) Len() int { return len(m.futures) }

// Each visits every entry.
func (m *FutureMap) Each(fn func(p domain.Point, f Future)) {
	for p, f := range m.futures {
		fn(p, f)
	}
}
