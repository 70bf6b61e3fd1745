package ops

import (
	"context"

	"github.com/cqyuan/legion/service/event"
)

// DynamicCollective names a collective whose reduced value arrives
// through an event-backed handle.
type DynamicCollective struct {
	Handle event.Future
}

// DynamicCollectiveOp reads the value of a dynamic collective and
// writes it into a future, memoizing the result so roll backs observe
// the same value.
type DynamicCollectiveOp struct {
	Operation
	collective DynamicCollective
	future     event.Future
}

// InitializeCollective starts the op and returns the result future.
func (d *DynamicCollectiveOp) InitializeCollective(parent ParentContext, dc DynamicCollective) event.Future {
	d.Initialize(parent, true, nil, 0)
	d.collective = dc
	d.future = d.env.Events.NewFuture()
	return d.future
}

func (d *DynamicCollectiveOp) TriggerExecution(ctx context.Context) Outcome {
	d.CompleteMapping()
	future := d.future
	handle := d.collective.Handle
	gen := d.Generation()
	if handle == nil {
		future.SetPoisoned()
		d.Poison()
		d.CompleteExecution()
		return Poisoned
	}
	if handle.Triggered() {
		d.deliver(handle, future, gen)
		return Proceed
	}
	handle.Subscribe(func(poisoned bool) {
		d.env.enqueue(func() { d.deliver(handle, future, gen) })
	})
	return Deferred
}

func (d *DynamicCollectiveOp) deliver(handle, future event.Future, gen GenerationID) {
	if handle.Poisoned() {
		future.SetPoisoned()
		d.QuashOperation(gen, false)
		return
	}
	value, _ := handle.Value()
	future.Set(value)
	d.CompleteExecution()
}

func (d *DynamicCollectiveOp) Deactivate() {
	d.collective = DynamicCollective{}
	d.future = nil
	d.deactivateOperation()
}
