package ops

import (
	"sync"

	"github.com/cqyuan/legion/service/event"
)

// FuturePredOp makes a predicate out of a future. The future's value is
// interpreted as a boolean: explicit booleans pass through, nil is
// false, any other value is true.
type FuturePredOp struct {
	PredicateOp
	future event.Future
}

// InitializeFuturePred starts the predicate over the future.
func (f *FuturePredOp) InitializeFuturePred(parent ParentContext, fut event.Future) {
	f.Initialize(parent, true, nil, 0)
	f.activatePredicate()
	f.mu.Lock()
	f.resolved = false
	f.mu.Unlock()
	f.future = fut
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	}
	return true
}

// resolveFuturePredicate samples the future and resolves the predicate.
func (f *FuturePredOp) resolveFuturePredicate() {
	gen := f.Generation()
	value, _ := f.future.Value()
	f.SetResolvedValue(gen, !f.future.Poisoned() && truthy(value))
}

func (f *FuturePredOp) TriggerMapping() {
	f.mu.Lock()
	if f.triggerMappingInvoked {
		f.mu.Unlock()
		return
	}
	f.triggerMappingInvoked = true
	f.mu.Unlock()

	if f.future.Triggered() {
		f.resolveFuturePredicate()
	} else {
		f.future.Subscribe(func(bool) {
			f.env.enqueue(f.resolveFuturePredicate)
		})
	}
	f.env.ready(f.self)
}

func (f *FuturePredOp) Deactivate() {
	f.future = nil
	f.deactivateOperation()
}

// NotPredOp negates another predicate.
type NotPredOp struct {
	PredicateOp
	predOp  PredicateImpl
	predGen GenerationID
}

// InitializeNotPred starts the negation of p.
func (n *NotPredOp) InitializeNotPred(parent ParentContext, p Predicate) {
	n.Initialize(parent, true, nil, 0)
	n.activatePredicate()
	n.mu.Lock()
	n.resolved = false
	n.mu.Unlock()
	if p.Const {
		n.predOp = nil
		n.SetResolvedValue(n.Generation(), !p.Value)
		return
	}
	n.predOp = p.Impl
	n.predGen = p.Gen
	p.Impl.AddPredicateReference()
}

func (n *NotPredOp) TriggerDependenceAnalysis() {
	if n.predOp != nil {
		n.RegisterDependence(n.predOp, n.predGen)
	}
}

func (n *NotPredOp) TriggerMapping() {
	n.mu.Lock()
	if n.triggerMappingInvoked {
		n.mu.Unlock()
		return
	}
	n.triggerMappingInvoked = true
	n.mu.Unlock()

	if n.predOp != nil {
		if value, valid := n.predOp.RegisterWaiter(n, n.Generation()); valid {
			n.SetResolvedValue(n.Generation(), !value)
		}
	}
	n.env.ready(n.self)
}

// NotifyPredicateValue flips the input's resolution.
func (n *NotPredOp) NotifyPredicateValue(gen GenerationID, value bool) {
	n.SetResolvedValue(gen, !value)
}

func (n *NotPredOp) Deactivate() {
	if n.predOp != nil {
		n.predOp.RemovePredicateReference()
		n.predOp = nil
	}
	n.deactivateOperation()
}

// binaryPred carries the shared two-input bookkeeping of AND and OR.
type binaryPred struct {
	PredicateOp
	inputMu    sync.Mutex
	left       PredicateImpl
	right      PredicateImpl
	leftGen    GenerationID
	rightGen   GenerationID
	leftValue  bool
	leftValid  bool
	rightValue bool
	rightValid bool
}

func (b *binaryPred) initializeInputs(parent ParentContext, p1, p2 Predicate) (leftConst, rightConst *bool) {
	b.Initialize(parent, true, nil, 0)
	b.activatePredicate()
	b.mu.Lock()
	b.resolved = false
	b.mu.Unlock()
	b.inputMu.Lock()
	b.left, b.right = nil, nil
	b.leftValid, b.rightValid = false, false
	b.inputMu.Unlock()
	if p1.Const {
		v := p1.Value
		leftConst = &v
	} else {
		b.left = p1.Impl
		b.leftGen = p1.Gen
		p1.Impl.AddPredicateReference()
	}
	if p2.Const {
		v := p2.Value
		rightConst = &v
	} else {
		b.right = p2.Impl
		b.rightGen = p2.Gen
		p2.Impl.AddPredicateReference()
	}
	return leftConst, rightConst
}

func (b *binaryPred) registerInputDeps() {
	if b.left != nil {
		b.RegisterDependence(b.left, b.leftGen)
	}
	if b.right != nil {
		b.RegisterDependence(b.right, b.rightGen)
	}
}

func (b *binaryPred) releaseInputs() {
	if b.left != nil {
		b.left.RemovePredicateReference()
		b.left = nil
	}
	if b.right != nil {
		b.right.RemovePredicateReference()
		b.right = nil
	}
}

// noteInput records one input's resolution and returns both sides'
// state.
func (b *binaryPred) noteInput(fromLeft bool, value bool) (lv, lvOK, rv, rvOK bool) {
	b.inputMu.Lock()
	defer b.inputMu.Unlock()
	if fromLeft {
		b.leftValue, b.leftValid = value, true
	} else {
		b.rightValue, b.rightValid = value, true
	}
	return b.leftValue, b.leftValid, b.rightValue, b.rightValid
}

// AndPredOp resolves false as soon as either input is false.
type AndPredOp struct {
	binaryPred
}

// InitializeAndPred starts the conjunction of p1 and p2.
func (a *AndPredOp) InitializeAndPred(parent ParentContext, p1, p2 Predicate) {
	leftConst, rightConst := a.initializeInputs(parent, p1, p2)
	if leftConst != nil {
		a.noteInput(true, *leftConst)
	}
	if rightConst != nil {
		a.noteInput(false, *rightConst)
	}
	a.applyAnd()
}

func (a *AndPredOp) applyAnd() {
	a.inputMu.Lock()
	lv, lok := a.leftValue, a.leftValid
	rv, rok := a.rightValue, a.rightValid
	a.inputMu.Unlock()
	switch {
	case lok && !lv, rok && !rv:
		a.SetResolvedValue(a.Generation(), false)
	case lok && rok:
		a.SetResolvedValue(a.Generation(), lv && rv)
	}
}

func (a *AndPredOp) TriggerDependenceAnalysis() {
	a.registerInputDeps()
}

func (a *AndPredOp) TriggerMapping() {
	a.mu.Lock()
	if a.triggerMappingInvoked {
		a.mu.Unlock()
		return
	}
	a.triggerMappingInvoked = true
	a.mu.Unlock()

	if a.left != nil {
		if value, valid := a.left.RegisterWaiter(&leftWaiter{a}, a.Generation()); valid {
			a.noteInput(true, value)
		}
	}
	if a.right != nil {
		if value, valid := a.right.RegisterWaiter(&rightWaiter{a}, a.Generation()); valid {
			a.noteInput(false, value)
		}
	}
	a.applyAnd()
	a.env.ready(a.self)
}

func (a *AndPredOp) Deactivate() {
	a.releaseInputs()
	a.deactivateOperation()
}

// OrPredOp resolves true as soon as either input is true.
type OrPredOp struct {
	binaryPred
}

// InitializeOrPred starts the disjunction of p1 and p2.
func (o *OrPredOp) InitializeOrPred(parent ParentContext, p1, p2 Predicate) {
	leftConst, rightConst := o.initializeInputs(parent, p1, p2)
	if leftConst != nil {
		o.noteInput(true, *leftConst)
	}
	if rightConst != nil {
		o.noteInput(false, *rightConst)
	}
	o.applyOr()
}

func (o *OrPredOp) applyOr() {
	o.inputMu.Lock()
	lv, lok := o.leftValue, o.leftValid
	rv, rok := o.rightValue, o.rightValid
	o.inputMu.Unlock()
	switch {
	case lok && lv, rok && rv:
		o.SetResolvedValue(o.Generation(), true)
	case lok && rok:
		o.SetResolvedValue(o.Generation(), lv || rv)
	}
}

func (o *OrPredOp) TriggerDependenceAnalysis() {
	o.registerInputDeps()
}

func (o *OrPredOp) TriggerMapping() {
	o.mu.Lock()
	if o.triggerMappingInvoked {
		o.mu.Unlock()
		return
	}
	o.triggerMappingInvoked = true
	o.mu.Unlock()

	if o.left != nil {
		if value, valid := o.left.RegisterWaiter(&leftWaiter{orSide{o}}, o.Generation()); valid {
			o.noteInput(true, value)
		}
	}
	if o.right != nil {
		if value, valid := o.right.RegisterWaiter(&rightWaiter{orSide{o}}, o.Generation()); valid {
			o.noteInput(false, value)
		}
	}
	o.applyOr()
	o.env.ready(o.self)
}

func (o *OrPredOp) Deactivate() {
	o.releaseInputs()
	o.deactivateOperation()
}

// sided waiters distinguish which input of a binary combinator fired.

type sided interface {
	note(fromLeft bool, value bool)
}

type leftWaiter struct{ s sided }

func (w *leftWaiter) NotifyPredicateValue(_ GenerationID, value bool) {
	w.s.note(true, value)
}

type rightWaiter struct{ s sided }

func (w *rightWaiter) NotifyPredicateValue(_ GenerationID, value bool) {
	w.s.note(false, value)
}

func (a *AndPredOp) note(fromLeft bool, value bool) {
	a.noteInput(fromLeft, value)
	a.applyAnd()
}

type orSide struct{ o *OrPredOp }

func (s orSide) note(fromLeft bool, value bool) {
	s.o.noteInput(fromLeft, value)
	s.o.applyOr()
}
