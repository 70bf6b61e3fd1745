package ops

import (
	"context"
	"sync"
)

// PredicateWaiter is notified when a predicate it registered with
// resolves.
type PredicateWaiter interface {
	NotifyPredicateValue(gen GenerationID, value bool)
}

// PredicateImpl is the surface predicate operations expose to
// speculative ops and combinators.
type PredicateImpl interface {
	Op
	AddPredicateReference()
	RemovePredicateReference()
	RegisterWaiter(w PredicateWaiter, gen GenerationID) (value bool, valid bool)
}

// Predicate is the user-facing handle: either a constant or a live
// predicate operation captured at a generation.
type Predicate struct {
	Const bool
	Value bool
	Impl  PredicateImpl
	Gen   GenerationID
}

// TruePred always holds.
var TruePred = Predicate{Const: true, Value: true}

// FalsePred never holds.
var FalsePred = Predicate{Const: true, Value: false}

// PredicateOp is the base for operations that carry a monotonically
// resolving boolean value and a waiter set.
type PredicateOp struct {
	Operation

	predMu            sync.Mutex
	predicateResolved bool
	predicateValue    bool
	waiters           map[PredicateWaiter]GenerationID
	references        int
	pendingCommit     bool
}

func (p *PredicateOp) activatePredicate() {
	p.predMu.Lock()
	p.predicateResolved = false
	p.predicateValue = false
	p.waiters = map[PredicateWaiter]GenerationID{}
	p.references = 0
	p.pendingCommit = false
	p.predMu.Unlock()
}

// AddPredicateReference keeps the predicate slot alive for a dependent
// combinator or speculative op. Separate from mapping references.
func (p *PredicateOp) AddPredicateReference() {
	p.predMu.Lock()
	p.references++
	p.predMu.Unlock()
}

// RemovePredicateReference drops one reference; the deferred commit
// runs when the last reference goes away.
func (p *PredicateOp) RemovePredicateReference() {
	p.predMu.Lock()
	p.references--
	commit := p.references == 0 && p.pendingCommit
	p.predMu.Unlock()
	if commit {
		p.CommitOperation()
	}
}

// RegisterWaiter returns the resolved value when available; otherwise
// it records the waiter for notification. Once resolved, every later
// call returns the value without suspension.
func (p *PredicateOp) RegisterWaiter(w PredicateWaiter, gen GenerationID) (bool, bool) {
	p.predMu.Lock()
	defer p.predMu.Unlock()
	if p.predicateResolved {
		return p.predicateValue, true
	}
	p.waiters[w] = gen
	return false, false
}

// SetResolvedValue resolves the predicate exactly once and broadcasts
// to the waiters off-lock.
func (p *PredicateOp) SetResolvedValue(predGen GenerationID, value bool) {
	p.predMu.Lock()
	if p.predicateResolved {
		p.predMu.Unlock()
		return
	}
	p.predicateResolved = true
	p.predicateValue = value
	waiters := p.waiters
	p.waiters = map[PredicateWaiter]GenerationID{}
	p.predMu.Unlock()
	p.env.enqueue(func() {
		for w, gen := range waiters {
			w.NotifyPredicateValue(gen, value)
		}
	})
	p.ResolveSpeculation()
}

// TriggerCommit defers the actual commit while combinators or
// speculative ops still hold references to this predicate.
func (p *PredicateOp) TriggerCommit() {
	p.predMu.Lock()
	busy := p.references > 0
	if busy {
		p.pendingCommit = true
	}
	p.predMu.Unlock()
	if !busy {
		p.CommitOperation()
	}
}

// TriggerExecution completes predicate ops immediately; resolution is
// delivered through the waiter machinery, not the event graph.
func (p *PredicateOp) TriggerExecution(ctx context.Context) Outcome {
	p.CompleteMapping()
	return p.LaunchWhenReady(func() { p.CompleteExecution() })
}
