// Package memory provides the default in-process event system.
package memory

import (
	"context"
	"sync"

	"github.com/cqyuan/legion/service/event"
)

// System implements event.System with in-process primitives.
type System struct{}

// New returns a new in-memory event system.
func New() *System { return &System{} }

func (s *System) NewUserEvent() event.UserEvent { return newUserEvent() }

func (s *System) NewFuture() event.Future { return &future{userEvent: newUserEvent()} }

func (s *System) NewReservation() event.Reservation {
	return &reservation{available: true}
}

// Completed returns an already-fired, clean event.
func (s *System) Completed() event.Event {
	ev := newUserEvent()
	ev.Trigger()
	return ev
}

// Merge returns an event that fires once all inputs have fired. Poison
// on any input poisons the merge.
func (s *System) Merge(events ...event.Event) event.Event {
	merged := newUserEvent()
	if len(events) == 0 {
		merged.Trigger()
		return merged
	}
	var mu sync.Mutex
	remaining := len(events)
	poisoned := false
	for _, ev := range events {
		ev.Subscribe(func(p bool) {
			mu.Lock()
			if p {
				poisoned = true
			}
			remaining--
			done := remaining == 0
			wasPoisoned := poisoned
			mu.Unlock()
			if !done {
				return
			}
			if wasPoisoned {
				merged.TriggerWithPoison()
			} else {
				merged.Trigger()
			}
		})
	}
	return merged
}

type userEvent struct {
	mu        sync.Mutex
	fired     chan struct{}
	triggered bool
	poisoned  bool
	subs      []func(poisoned bool)
}

func newUserEvent() *userEvent {
	return &userEvent{fired: make(chan struct{})}
}

func (e *userEvent) Triggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered
}

func (e *userEvent) Poisoned() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poisoned
}

func (e *userEvent) Subscribe(fn func(poisoned bool)) {
	e.mu.Lock()
	if e.triggered {
		poisoned := e.poisoned
		e.mu.Unlock()
		fn(poisoned)
		return
	}
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

func (e *userEvent) Wait(ctx context.Context) error {
	select {
	case <-e.fired:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.Poisoned() {
		return event.ErrPoisoned
	}
	return nil
}

func (e *userEvent) Trigger() { e.fire(false) }

func (e *userEvent) TriggerWithPoison() { e.fire(true) }

func (e *userEvent) fire(poisoned bool) {
	e.mu.Lock()
	if e.triggered {
		e.mu.Unlock()
		return
	}
	e.triggered = true
	e.poisoned = poisoned
	subs := e.subs
	e.subs = nil
	close(e.fired)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(poisoned)
	}
}

type future struct {
	*userEvent
	valueMu sync.Mutex
	value   interface{}
	set     bool
}

func (f *future) Set(value interface{}) {
	f.valueMu.Lock()
	if f.set {
		f.valueMu.Unlock()
		return
	}
	f.value = value
	f.set = true
	f.valueMu.Unlock()
	f.Trigger()
}

func (f *future) SetPoisoned() {
	f.TriggerWithPoison()
}

func (f *future) Get(ctx context.Context) (interface{}, error) {
	if err := f.Wait(ctx); err != nil {
		return nil, err
	}
	f.valueMu.Lock()
	defer f.valueMu.Unlock()
	return f.value, nil
}

func (f *future) Value() (interface{}, bool) {
	if !f.Triggered() || f.Poisoned() {
		return nil, false
	}
	f.valueMu.Lock()
	defer f.valueMu.Unlock()
	return f.value, f.set
}

// reservation queues waiters in FIFO order.
type reservation struct {
	mu        sync.Mutex
	available bool
	waiters   []chan struct{}
}

func (r *reservation) Acquire(ctx context.Context) error {
	r.mu.Lock()
	if r.available {
		r.available = false
		r.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	r.waiters = append(r.waiters, grant)
	r.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		for i, w := range r.waiters {
			if w == grant {
				r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
				r.mu.Unlock()
				return ctx.Err()
			}
		}
		r.mu.Unlock()
		// The grant raced with cancellation; pass it on.
		r.Release()
		return ctx.Err()
	}
}

func (r *reservation) Release() {
	r.mu.Lock()
	if len(r.waiters) == 0 {
		r.available = true
		r.mu.Unlock()
		return
	}
	next := r.waiters[0]
	r.waiters = r.waiters[1:]
	r.mu.Unlock()
	close(next)
}
