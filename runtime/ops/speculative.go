package ops

import (
	"context"
	"sync"

	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/mapper"
)

// SpecState tracks where a speculative operation stands relative to its
// predicate.
type SpecState int

const (
	PendingMapState SpecState = iota
	SpeculateTrueState
	SpeculateFalseState
	ResolveTrueState
	ResolveFalseState
)

// Speculative is implemented by operations that can be gated on a
// predicate. Exactly one of ResolveTrue or ResolveFalse runs per
// generation, after speculation resolves.
type Speculative interface {
	Op
	// Speculate asks whether to map optimistically before the
	// predicate resolves, and with which guessed value.
	Speculate(ctx context.Context) (speculate bool, value bool)
	ResolveTrue()
	ResolveFalse()
}

// SpeculativeOp is the base for predicated operations. It owns the
// speculation state machine and the predicate attachment.
type SpeculativeOp struct {
	Operation

	specMu                    sync.Mutex
	state                     SpecState
	predicate                 PredicateImpl
	predicateGen              GenerationID
	receivedTriggerResolution bool
	predicateWaiter           event.UserEvent

	specSelf Speculative
}

// attachSpeculative wires the variant on top of the base attachment.
func (s *SpeculativeOp) attachSpeculative(self Speculative, env *Env, kind Kind, release func(Op)) {
	s.attach(self, env, kind, release)
	s.specSelf = self
}

// InitializeSpeculation starts a generation under the given predicate.
// Constant predicates resolve immediately.
func (s *SpeculativeOp) InitializeSpeculation(parent ParentContext, track bool,
	childEvent event.Event, regions int, pred Predicate) {
	s.Initialize(parent, track, childEvent, regions)
	s.specMu.Lock()
	s.state = PendingMapState
	s.predicate = nil
	s.predicateGen = 0
	s.receivedTriggerResolution = false
	s.predicateWaiter = nil
	s.specMu.Unlock()
	if pred.Impl == nil {
		// No live predicate: the zero value and TruePred both run
		// unconditionally, FalsePred takes the skip path at mapping.
		if pred.Const && !pred.Value {
			s.specMu.Lock()
			s.state = ResolveFalseState
			s.specMu.Unlock()
		}
		return
	}
	s.specMu.Lock()
	s.predicate = pred.Impl
	s.predicateGen = pred.Gen
	s.specMu.Unlock()
	s.mu.Lock()
	s.speculative = true
	s.resolved = false
	s.mu.Unlock()
	pred.Impl.AddPredicateReference()
}

// IsPredicated reports whether a live predicate gates this operation.
func (s *SpeculativeOp) IsPredicated() bool {
	s.specMu.Lock()
	defer s.specMu.Unlock()
	return s.predicate != nil
}

// RegisterPredicateDependence records the graph edge on the predicate
// operation during Phase B.
func (s *SpeculativeOp) RegisterPredicateDependence() {
	s.specMu.Lock()
	pred := s.predicate
	gen := s.predicateGen
	s.specMu.Unlock()
	if pred == nil {
		return
	}
	s.RegisterDependence(pred, gen)
}

// TriggerMapping decides whether to map, speculate, or wait, based on
// the predicate.
func (s *SpeculativeOp) TriggerMapping() {
	s.mu.Lock()
	if s.triggerMappingInvoked {
		s.mu.Unlock()
		return
	}
	s.triggerMappingInvoked = true
	s.mu.Unlock()

	s.specMu.Lock()
	if s.state == ResolveFalseState && s.predicate == nil {
		// Constant-false predicate: skip execution entirely.
		s.specMu.Unlock()
		s.specSelf.ResolveFalse()
		return
	}
	pred := s.predicate
	s.specMu.Unlock()
	gen := s.Operation.Generation()

	if pred == nil {
		s.continueMapping()
		return
	}
	if value, valid := pred.RegisterWaiter(s, gen); valid {
		s.resolveValue(gen, value)
		return
	}
	// Unresolved: let the operation decide whether to speculate.
	speculate, guess := s.specSelf.Speculate(context.Background())
	if !speculate {
		// Refuse to speculate: stay in PendingMap until the waiter
		// fires NotifyPredicateValue.
		return
	}
	s.specMu.Lock()
	if guess {
		s.state = SpeculateTrueState
	} else {
		s.state = SpeculateFalseState
	}
	s.specMu.Unlock()
	if guess {
		// Map optimistically along the normal path.
		s.continueMapping()
	} else {
		// Optimistically assume skip: map but hold execution.
		s.CompleteMapping()
	}
}

// markTriggerMappingInvoked satisfies the at-most-once guard for paths
// that bypass the base trigger.
func (s *SpeculativeOp) markTriggerMappingInvoked() {
	s.mu.Lock()
	s.triggerMappingInvoked = true
	s.mu.Unlock()
}

// ContinueMapping re-enters the normal mapping path from a resolve
// hook, regardless of the trigger guard state.
func (s *SpeculativeOp) ContinueMapping() {
	s.continueMapping()
}

// TriggerResolution for a predicated op records that producers have
// resolved; the op's own resolution is driven by its predicate.
func (s *SpeculativeOp) TriggerResolution() {
	s.mu.Lock()
	s.triggerResolutionInvoked = true
	predicated := s.speculative
	s.mu.Unlock()
	s.specMu.Lock()
	s.receivedTriggerResolution = true
	s.specMu.Unlock()
	if !predicated {
		s.ResolveSpeculation()
	}
}

// resolveValue transitions to the matching resolve state and runs the
// variant's resolve hook exactly once.
func (s *SpeculativeOp) resolveValue(gen GenerationID, value bool) {
	s.specMu.Lock()
	switch s.state {
	case ResolveTrueState, ResolveFalseState:
		s.specMu.Unlock()
		return
	}
	if value {
		s.state = ResolveTrueState
	} else {
		s.state = ResolveFalseState
	}
	s.specMu.Unlock()
	s.markTriggerMappingInvoked()
	if value {
		s.specSelf.ResolveTrue()
	} else {
		s.specSelf.ResolveFalse()
	}
	s.ResolveSpeculation()
}

// NotifyPredicateValue delivers the resolved predicate. Depending on
// the speculation state this confirms the guess, upgrades an
// unexecuted misprediction, or quashes an executed one.
func (s *SpeculativeOp) NotifyPredicateValue(gen GenerationID, value bool) {
	s.specMu.Lock()
	state := s.state
	s.specMu.Unlock()

	current := s.Operation.Generation()
	if gen != current {
		return
	}

	switch state {
	case PendingMapState:
		s.resolveValue(gen, value)
	case SpeculateTrueState:
		if value {
			s.specMu.Lock()
			s.state = ResolveTrueState
			s.specMu.Unlock()
			s.ResolveSpeculation()
			return
		}
		s.mispredict(gen)
	case SpeculateFalseState:
		if !value {
			s.specMu.Lock()
			s.state = ResolveFalseState
			s.specMu.Unlock()
			s.specSelf.ResolveFalse()
			s.ResolveSpeculation()
			return
		}
		s.mispredict(gen)
	}
}

// mispredict upgrades a still-mapping operation to the resolved path or
// quashes an executed one with a context restart.
func (s *SpeculativeOp) mispredict(gen GenerationID) {
	s.mu.Lock()
	executed := s.executed
	s.mu.Unlock()
	if executed {
		s.QuashOperation(gen, true)
		return
	}
	s.specMu.Lock()
	wasFalse := s.state == SpeculateFalseState
	if wasFalse {
		s.state = ResolveTrueState
	} else {
		s.state = ResolveFalseState
	}
	s.specMu.Unlock()
	if wasFalse {
		// Guessed skip, predicate is true: run for real.
		s.specSelf.ResolveTrue()
	} else {
		// Guessed run, predicate is false, not yet executed: skip.
		s.specSelf.ResolveFalse()
	}
	s.ResolveSpeculation()
}

// releasePredicate drops the reference taken at initialization.
func (s *SpeculativeOp) releasePredicate() {
	s.specMu.Lock()
	pred := s.predicate
	s.predicate = nil
	s.specMu.Unlock()
	if pred != nil {
		pred.RemovePredicateReference()
	}
}

// deactivateSpeculative resets speculation state before recycling.
func (s *SpeculativeOp) deactivateSpeculative() {
	s.releasePredicate()
	s.specMu.Lock()
	s.state = PendingMapState
	s.receivedTriggerResolution = false
	s.predicateWaiter = nil
	s.specMu.Unlock()
	s.deactivateOperation()
}

// speculationRequest builds the mapper request used for speculation
// queries.
func (s *SpeculativeOp) speculationRequest() *mapper.Request {
	return &mapper.Request{
		OpID: uint64(s.UniqueOpID()),
		Kind: s.kind.String(),
	}
}
