package ops

import (
	"context"
	"sync"

	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/event"
)

// Op is the behavior every operation variant provides on top of the
// shared Operation state. Stage triggers are invoked through this
// interface so variants can refine individual stages.
type Op interface {
	Base() *Operation
	Kind() Kind
	LoggingName() string

	// TriggerDependenceAnalysis runs Phase B for the operation. It is
	// always bracketed by begin/end dependence analysis.
	TriggerDependenceAnalysis()

	// TriggerMapping runs once all mapping dependences are satisfied;
	// speculation dependences do not gate it.
	TriggerMapping()

	// TriggerExecution maps the operation through the mapper and
	// launches its work. Invoked by an execution worker.
	TriggerExecution(ctx context.Context) Outcome

	// TriggerResolution resolves the operation's speculation state.
	TriggerResolution()

	// TriggerComplete runs when the operation is ready to complete.
	TriggerComplete()

	// TriggerCommit runs when the operation is ready to commit.
	TriggerCommit()

	// ReportAliasedRequirements handles two of the op's own
	// requirements conflicting.
	ReportAliasedRequirements(idx1, idx2 int)

	// Activate prepares a recycled slot for a new generation and
	// Deactivate resets it and returns it to the freelist.
	Activate()
	Deactivate()
}

// Operation carries the lifecycle state machine shared by every
// variant: the generation counter, dependence bookkeeping, stage
// guards, and the trigger plumbing.
type Operation struct {
	env     *Env
	self    Op
	kind    Kind
	release func(Op)

	mu       sync.Mutex
	gen      GenerationID
	uniqueID UniqueID

	// Operations this one depends on / operations depending on it.
	incoming map[Op]GenerationID
	outgoing map[Op]GenerationID

	outstandingMappingDeps     int
	outstandingSpeculationDeps int
	outstandingCommitDeps      int
	outstandingMappingRefs     int

	// Requirement indices whose contents no consumer has verified yet.
	unverifiedRegions map[int]struct{}
	// Producer op -> producer requirement indices we verify when we
	// complete.
	verifyRegions map[Op]map[int]struct{}

	// Events from producers that fire once their children have mapped.
	dependentChildrenMapped []event.Event

	// Completion events of producers gating our execution launch.
	executionPreconditions []event.Event

	mapped    bool
	executed  bool
	resolved  bool
	hardened  bool
	completed bool
	committed bool
	quashed   bool
	poisoned  bool

	triggerMappingInvoked    bool
	triggerResolutionInvoked bool
	triggerCompleteInvoked   bool
	triggerCommitInvoked     bool

	earlyCommitRequest    bool
	needCompletionTrigger bool
	trackParent           bool
	speculative           bool

	parent          ParentContext
	childrenMapped  event.Event
	completionEvent event.UserEvent

	trace   *Trace
	tracing bool

	mustEpoch      *MustEpochOp
	mustEpochGen   GenerationID
	mustEpochIndex int

	// Close ops exclude their creating operation from registration.
	excludeOp  Op
	excludeGen GenerationID

	logicalRecords []LogicalUser
}

// attach wires the shared state to its variant, collaborators and
// freelist. Called once when the slot is constructed.
func (o *Operation) attach(self Op, env *Env, kind Kind, release func(Op)) {
	o.self = self
	o.env = env
	o.kind = kind
	o.release = release
}

// Base returns the shared operation state.
func (o *Operation) Base() *Operation { return o }

// Kind returns the variant tag.
func (o *Operation) Kind() Kind { return o.kind }

// LoggingName returns the variant's display name.
func (o *Operation) LoggingName() string { return o.kind.String() }

// Generation returns the slot's current generation.
func (o *Operation) Generation() GenerationID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen
}

// UniqueOpID returns the id assigned at initialize.
func (o *Operation) UniqueOpID() UniqueID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.uniqueID
}

// Parent returns the enclosing context.
func (o *Operation) Parent() ParentContext { return o.parent }

// CompletionEvent returns the event fired when this generation
// completes.
func (o *Operation) CompletionEvent() event.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completionEvent
}

// ChildrenMapped returns the event that fires when the operation's
// children have mapped, if it has one.
func (o *Operation) ChildrenMapped() event.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.childrenMapped
}

// Trace returns the trace this operation participates in, if any.
func (o *Operation) Trace() *Trace { return o.trace }

// IsTracing reports whether the op is being captured into a trace.
func (o *Operation) IsTracing() bool { return o.tracing }

// IsHardened reports whether the operation's results were hardened.
func (o *Operation) IsHardened() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hardened
}

// SetMustEpoch records membership in a must-parallel epoch.
func (o *Operation) SetMustEpoch(epoch *MustEpochOp, index int) {
	o.mu.Lock()
	o.mustEpoch = epoch
	o.mustEpochGen = epoch.Generation()
	o.mustEpochIndex = index
	o.mu.Unlock()
	epoch.registerSubop(o.self, index)
}

// MustEpoch returns the epoch this op belongs to, if any.
func (o *Operation) MustEpoch() *MustEpochOp { return o.mustEpoch }

// setExcludedOp marks an operation that must never receive an edge from
// this op, used by close operations toward their creator.
func (o *Operation) setExcludedOp(op Op, gen GenerationID) {
	o.mu.Lock()
	o.excludeOp = op
	o.excludeGen = gen
	o.mu.Unlock()
}

// Initialize starts a new generation of the operation inside parent.
func (o *Operation) Initialize(parent ParentContext, track bool, childrenMapped event.Event, numRegions int) {
	env := o.env
	o.mu.Lock()
	o.parent = parent
	o.trackParent = track
	o.childrenMapped = childrenMapped
	o.uniqueID = UniqueID(env.IDs.Next())
	o.incoming = map[Op]GenerationID{}
	o.outgoing = map[Op]GenerationID{}
	o.outstandingMappingDeps = 0
	o.outstandingSpeculationDeps = 0
	o.outstandingCommitDeps = 0
	o.outstandingMappingRefs = 0
	o.unverifiedRegions = make(map[int]struct{}, numRegions)
	for i := 0; i < numRegions; i++ {
		o.unverifiedRegions[i] = struct{}{}
	}
	o.verifyRegions = map[Op]map[int]struct{}{}
	o.dependentChildrenMapped = nil
	o.executionPreconditions = nil
	o.mapped = false
	o.executed = false
	o.resolved = true
	o.hardened = false
	o.completed = false
	o.committed = false
	o.quashed = false
	o.poisoned = false
	o.triggerMappingInvoked = false
	o.triggerResolutionInvoked = false
	o.triggerCompleteInvoked = false
	o.triggerCommitInvoked = false
	o.earlyCommitRequest = false
	o.needCompletionTrigger = true
	o.speculative = false
	o.completionEvent = env.Events.NewUserEvent()
	o.mustEpoch = nil
	o.mustEpochGen = 0
	o.mustEpochIndex = 0
	o.excludeOp = nil
	o.logicalRecords = nil
	o.trace = nil
	o.tracing = false
	if tr := parent.CurrentTrace(); tr != nil {
		o.trace = tr
		o.tracing = !tr.IsFixed()
	}
	o.mu.Unlock()
	if track {
		parent.RegisterChild(o.self)
	}
}

// BeginDependenceAnalysis places a temporary mapping dependence on the
// operation so it cannot trigger before the analysis finishes.
func (o *Operation) BeginDependenceAnalysis() {
	o.mu.Lock()
	o.outstandingMappingDeps++
	o.mu.Unlock()
}

// EndDependenceAnalysis removes the placeholder and triggers mapping if
// the operation turned out to have no outstanding dependences.
func (o *Operation) EndDependenceAnalysis() {
	o.mu.Lock()
	o.outstandingMappingDeps--
	ready := o.mappingReadyLocked()
	o.mu.Unlock()
	if ready {
		o.env.enqueue(o.self.TriggerMapping)
	}
}

// mappingReadyLocked reports whether Phase C may start. Callers hold
// o.mu. Speculation dependences gate resolution, not mapping: a
// predicated op must be able to map ahead of its unresolved inputs.
func (o *Operation) mappingReadyLocked() bool {
	return o.outstandingMappingDeps == 0 &&
		!o.mapped && !o.triggerMappingInvoked
}

// RegisterDependence registers a plain mapping dependence on target.
func (o *Operation) RegisterDependence(target Op, targetGen GenerationID) Registration {
	res := o.performRegistration(target, targetGen, false)
	if res == Registered && o.tracing && o.trace != nil {
		o.trace.recordDependence(target, targetGen, o.self, o.gen)
	}
	return res
}

// RegisterRegionDependence registers a dependence discovered between
// requirement idx of this op and requirement targetIdx of target,
// recording verification bookkeeping and, under a capturing trace, the
// trace edge.
func (o *Operation) RegisterRegionDependence(idx int, target Op, targetGen GenerationID,
	targetIdx int, dtype region.DependenceType, validates bool, mask region.FieldMask) Registration {
	if dtype == region.NoDependence {
		return Registered
	}
	// Edges inside one must-parallel epoch are recorded on the epoch,
	// never in the graph: the members must run concurrently.
	if epoch := o.mustEpoch; epoch != nil {
		tb := target.Base()
		if tb.mustEpoch == epoch && tb.mustEpochGen == o.mustEpochGen {
			epoch.recordDependence(target, targetGen, o.self, o.gen, targetIdx, idx, dtype)
			return Registered
		}
	}
	res := o.performRegistration(target, targetGen, true)
	if res != Registered {
		return res
	}
	o.mu.Lock()
	if validates {
		set := o.verifyRegions[target]
		if set == nil {
			set = map[int]struct{}{}
			o.verifyRegions[target] = set
		}
		set[targetIdx] = struct{}{}
		delete(o.unverifiedRegions, idx)
	}
	o.mu.Unlock()
	if o.tracing && o.trace != nil {
		o.trace.recordRegionDependence(target, targetGen, o.self, o.gen, idx)
	}
	return res
}

// performRegistration adds the (target -> self) edge with stale
// detection. The two endpoint locks are taken one at a time: the
// consumer's counters are raised optimistically, then the producer is
// validated under its own lock, then the consumer's bookkeeping is
// settled.
func (o *Operation) performRegistration(target Op, targetGen GenerationID, withPrecondition bool) Registration {
	tb := target.Base()
	if tb == o {
		// Self dependences are pruned.
		return StaleReference
	}
	o.mu.Lock()
	if o.excludeOp == target && o.excludeGen == targetGen {
		o.mu.Unlock()
		return Registered
	}
	speculative := o.speculative
	o.outstandingMappingDeps++
	if speculative {
		o.outstandingSpeculationDeps++
	}
	o.mu.Unlock()

	tb.mu.Lock()
	stale := tb.gen != targetGen
	committed := !stale && tb.committed
	var targetMapped, targetResolved bool
	var childEvent event.Event
	var completion event.Event
	if !stale && !committed {
		tb.outgoing[o.self] = o.gen
		tb.outstandingCommitDeps++
		targetMapped = tb.mapped
		targetResolved = tb.resolved
		childEvent = tb.childrenMapped
		completion = tb.completionEvent
	}
	tb.mu.Unlock()

	if stale || committed {
		o.mu.Lock()
		o.outstandingMappingDeps--
		if speculative {
			o.outstandingSpeculationDeps--
		}
		o.mu.Unlock()
		if stale {
			return StaleReference
		}
		return AlreadyCommitted
	}

	o.mu.Lock()
	o.incoming[target] = targetGen
	if targetMapped {
		// The producer finished mapping before we appeared in its
		// outgoing set; it will never notify us.
		o.outstandingMappingDeps--
	}
	if speculative && targetResolved {
		o.outstandingSpeculationDeps--
	}
	if childEvent != nil {
		o.dependentChildrenMapped = append(o.dependentChildrenMapped, childEvent)
	}
	if withPrecondition && completion != nil {
		o.executionPreconditions = append(o.executionPreconditions, completion)
	}
	o.mu.Unlock()
	return Registered
}

// AddExecutionPrecondition makes the operation's launch wait for ev.
func (o *Operation) AddExecutionPrecondition(ev event.Event) {
	o.mu.Lock()
	o.executionPreconditions = append(o.executionPreconditions, ev)
	o.mu.Unlock()
}

// IsOperationCommitted reports whether the given generation has
// committed. The answer is conservative: false may be returned for a
// generation that just committed, never the converse.
func (o *Operation) IsOperationCommitted(gen GenerationID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen < o.gen {
		return true
	}
	return o.committed
}

// AddMappingReference records an external holder that may still add
// edges to this operation.
func (o *Operation) AddMappingReference(gen GenerationID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	o.outstandingMappingRefs++
}

// RemoveMappingReference drops one mapping reference; at zero the
// outgoing edge set freezes and commit becomes possible.
func (o *Operation) RemoveMappingReference(gen GenerationID) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.outstandingMappingRefs--
	o.mu.Unlock()
	o.tryCommit()
}

// RecordLogicalDependence remembers a user found during the logical
// traversal, for later trace capture.
func (o *Operation) RecordLogicalDependence(user LogicalUser) {
	o.mu.Lock()
	o.logicalRecords = append(o.logicalRecords, user)
	o.mu.Unlock()
}

// LogicalRecords returns the users recorded during logical traversal.
func (o *Operation) LogicalRecords() []LogicalUser {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.logicalRecords
}

// ClearLogicalRecords drops the recorded users.
func (o *Operation) ClearLogicalRecords() {
	o.mu.Lock()
	o.logicalRecords = nil
	o.mu.Unlock()
}

// notifyMappingDependence flows down an edge when a producer finishes
// mapping.
func (o *Operation) notifyMappingDependence(gen GenerationID) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.outstandingMappingDeps--
	ready := o.mappingReadyLocked()
	o.mu.Unlock()
	if ready {
		o.env.enqueue(o.self.TriggerMapping)
	}
}

// notifySpeculationDependence flows down an edge when a producer
// resolves its speculation. At zero the resolution trigger runs.
func (o *Operation) notifySpeculationDependence(gen GenerationID) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.outstandingSpeculationDeps--
	ready := o.outstandingSpeculationDeps == 0 && !o.triggerResolutionInvoked
	o.mu.Unlock()
	if ready {
		o.env.enqueue(o.self.TriggerResolution)
	}
}

// notifyCommitDependence flows up an edge when a consumer completes.
func (o *Operation) notifyCommitDependence(gen GenerationID) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.outstandingCommitDeps--
	o.mu.Unlock()
	o.tryCommit()
}

// NotifyRegionsVerified marks the given requirement indices verified by
// a completed consumer and relaxes the commit dependence it held.
func (o *Operation) NotifyRegionsVerified(indices []int, gen GenerationID) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	for _, idx := range indices {
		delete(o.unverifiedRegions, idx)
	}
	o.outstandingCommitDeps--
	o.mu.Unlock()
	o.tryCommit()
}

// TriggerMapping is the default Phase C entry: it waits for producers'
// children to map, then hands the op to the execution workers. Must
// epoch members report readiness to their epoch instead.
func (o *Operation) TriggerMapping() {
	o.mu.Lock()
	if o.triggerMappingInvoked {
		o.mu.Unlock()
		return
	}
	o.triggerMappingInvoked = true
	o.mu.Unlock()
	o.continueMapping()
}

// continueMapping performs the Phase C body without the at-most-once
// guard; speculative resolve paths re-enter through here.
func (o *Operation) continueMapping() {
	o.mu.Lock()
	o.triggerMappingInvoked = true
	children := make([]event.Event, len(o.dependentChildrenMapped))
	copy(children, o.dependentChildrenMapped)
	epoch := o.mustEpoch
	o.mu.Unlock()

	proceed := func() {
		if epoch != nil {
			epoch.notifySubopReady(o.self)
			return
		}
		o.env.ready(o.self)
	}
	if len(children) > 0 {
		merged := o.env.Events.Merge(children...)
		if !merged.Triggered() {
			merged.Subscribe(func(bool) { o.env.enqueue(proceed) })
			return
		}
	}
	proceed()
}

// TriggerExecution is the default Phase D/E body for operations with no
// external work: complete mapping and execution immediately.
func (o *Operation) TriggerExecution(ctx context.Context) Outcome {
	o.CompleteMapping()
	return o.LaunchWhenReady(func() { o.CompleteExecution() })
}

// TriggerResolution resolves speculation for non-speculative ops.
func (o *Operation) TriggerResolution() {
	o.mu.Lock()
	if o.triggerResolutionInvoked {
		o.mu.Unlock()
		return
	}
	o.triggerResolutionInvoked = true
	o.mu.Unlock()
	o.ResolveSpeculation()
}

// TriggerComplete is the default completion trigger.
func (o *Operation) TriggerComplete() {
	o.CompleteOperation()
}

// TriggerCommit is the default commit trigger.
func (o *Operation) TriggerCommit() {
	o.CommitOperation()
}

// ReportAliasedRequirements logs conflicting requirements; variants
// with multiple requirements refine this.
func (o *Operation) ReportAliasedRequirements(idx1, idx2 int) {
	if o.parent != nil {
		o.parent.ReportAliased(o.self, idx1, idx2)
	}
}

// LaunchWhenReady runs launch once every execution precondition has
// fired cleanly. A poisoned precondition quashes the operation and
// propagates the poison instead.
func (o *Operation) LaunchWhenReady(launch func()) Outcome {
	o.mu.Lock()
	pre := make([]event.Event, len(o.executionPreconditions))
	copy(pre, o.executionPreconditions)
	gen := o.gen
	o.mu.Unlock()
	if len(pre) == 0 {
		launch()
		return Proceed
	}
	merged := o.env.Events.Merge(pre...)
	if merged.Triggered() {
		if merged.Poisoned() {
			o.QuashOperation(gen, false)
			return Poisoned
		}
		launch()
		return Proceed
	}
	merged.Subscribe(func(poisoned bool) {
		if poisoned {
			o.QuashOperation(gen, false)
			return
		}
		o.env.enqueue(launch)
	})
	return Deferred
}

// CompleteMapping freezes the incoming edge set and notifies consumers
// down the outgoing edges.
func (o *Operation) CompleteMapping() {
	o.mu.Lock()
	if o.mapped {
		o.mu.Unlock()
		return
	}
	o.mapped = true
	outs := make(map[Op]GenerationID, len(o.outgoing))
	for op, gen := range o.outgoing {
		outs[op] = gen
	}
	o.mu.Unlock()
	for consumer, gen := range outs {
		consumer.Base().notifyMappingDependence(gen)
	}
	o.tryComplete()
}

// CompleteExecution marks the external work done.
func (o *Operation) CompleteExecution() {
	o.mu.Lock()
	if o.executed {
		o.mu.Unlock()
		return
	}
	o.executed = true
	o.mu.Unlock()
	o.tryComplete()
}

// ResolveSpeculation marks speculation resolved and notifies consumers.
func (o *Operation) ResolveSpeculation() {
	o.mu.Lock()
	if o.resolved {
		o.mu.Unlock()
		return
	}
	o.resolved = true
	outs := make(map[Op]GenerationID, len(o.outgoing))
	for op, gen := range o.outgoing {
		outs[op] = gen
	}
	o.mu.Unlock()
	for consumer, gen := range outs {
		consumer.Base().notifySpeculationDependence(gen)
	}
	o.tryComplete()
}

// tryComplete enqueues the completion trigger once the operation has
// mapped, executed, and resolved. The guard enforces at-most-once.
func (o *Operation) tryComplete() {
	o.mu.Lock()
	ready := o.mapped && o.executed && o.resolved && !o.triggerCompleteInvoked
	if ready {
		o.triggerCompleteInvoked = true
	}
	o.mu.Unlock()
	if ready {
		o.env.enqueue(o.self.TriggerComplete)
	}
}

// CompleteOperation fires the completion event, verifies producer
// regions, and relaxes producers' commit dependences.
func (o *Operation) CompleteOperation() {
	o.mu.Lock()
	if o.completed {
		o.mu.Unlock()
		if o.env.Log != nil {
			o.env.Log.WithField("op", o.kind.String()).
				Error("complete invoked twice on one generation")
		}
		return
	}
	o.completed = true
	poisoned := o.poisoned
	needTrigger := o.needCompletionTrigger
	o.needCompletionTrigger = false
	completion := o.completionEvent
	ins := make(map[Op]GenerationID, len(o.incoming))
	for op, gen := range o.incoming {
		ins[op] = gen
	}
	verify := make(map[Op][]int, len(o.verifyRegions))
	for op, set := range o.verifyRegions {
		idxs := make([]int, 0, len(set))
		for idx := range set {
			idxs = append(idxs, idx)
		}
		verify[op] = idxs
	}
	epoch := o.mustEpoch
	o.mu.Unlock()

	if needTrigger {
		if poisoned {
			completion.TriggerWithPoison()
		} else {
			completion.Trigger()
		}
	}
	for producer, gen := range ins {
		if idxs, ok := verify[producer]; ok && len(idxs) > 0 {
			producer.Base().NotifyRegionsVerified(idxs, gen)
		} else {
			producer.Base().notifyCommitDependence(gen)
		}
	}
	if epoch != nil {
		epoch.notifySubopComplete(o.self)
	}
	if o.trackParent {
		o.parent.ChildComplete(o.self)
	}
	o.tryCommit()
}

// RequestEarlyCommit lets the operation commit after completion without
// waiting for consumer verification.
func (o *Operation) RequestEarlyCommit() {
	o.mu.Lock()
	o.earlyCommitRequest = true
	o.mu.Unlock()
	o.tryCommit()
}

// HardenOperation records that the operation's results were hardened
// against failure.
func (o *Operation) HardenOperation() {
	o.mu.Lock()
	o.hardened = true
	o.mu.Unlock()
}

// tryCommit enqueues the commit trigger once the operation completed,
// lost its last mapping reference, and either satisfied all commit
// dependences or requested early commit.
func (o *Operation) tryCommit() {
	o.mu.Lock()
	ready := o.completed && o.outstandingMappingRefs == 0 &&
		(o.outstandingCommitDeps == 0 || o.earlyCommitRequest) &&
		!o.triggerCommitInvoked
	if ready {
		o.triggerCommitInvoked = true
	}
	o.mu.Unlock()
	if ready {
		o.env.enqueue(o.self.TriggerCommit)
	}
}

// CommitOperation retires the generation: the slot's generation
// advances and the slot returns to its freelist. Registrations that
// still name the retired generation are reported as stale from here on.
func (o *Operation) CommitOperation() {
	o.mu.Lock()
	if o.committed {
		o.mu.Unlock()
		return
	}
	o.committed = true
	o.gen++
	epoch := o.mustEpoch
	o.mu.Unlock()
	if epoch != nil {
		epoch.notifySubopCommit(o.self)
	}
	if o.trackParent {
		o.parent.ChildCommit(o.self)
	}
	o.self.Deactivate()
}

// QuashOperation aborts the generation: completion fires with poison
// and the poison propagates along outgoing edges through execution
// preconditions. Idempotent per generation.
func (o *Operation) QuashOperation(gen GenerationID, restart bool) {
	o.mu.Lock()
	if gen != o.gen || o.quashed {
		o.mu.Unlock()
		return
	}
	o.quashed = true
	o.poisoned = true
	needMappingNotify := !o.mapped
	o.mapped = true
	o.executed = true
	o.resolved = true
	outs := make(map[Op]GenerationID, len(o.outgoing))
	for op, g := range o.outgoing {
		outs[op] = g
	}
	// Completion may commit and deactivate the op, clearing parent.
	parent := o.parent
	o.mu.Unlock()
	if needMappingNotify {
		for consumer, g := range outs {
			consumer.Base().notifyMappingDependence(g)
		}
	}
	if o.env.Log != nil {
		o.env.Log.WithField("op", o.kind.String()).
			WithField("uid", uint64(o.uniqueID)).
			Debug("operation quashed")
	}
	o.tryComplete()
	if restart && parent != nil {
		parent.RaiseRestart(o.self)
	}
}

// Poison marks the operation so its completion carries the poison
// marker without the full quash path.
func (o *Operation) Poison() {
	o.mu.Lock()
	o.poisoned = true
	o.mu.Unlock()
}

// activateOperation resets nothing: slots are reset on deactivate so a
// freshly checked-out slot is ready for Initialize.
func (o *Operation) activateOperation() {}

// deactivateOperation clears the per-generation state and returns the
// slot to its freelist. The generation counter survives recycling.
func (o *Operation) deactivateOperation() {
	o.mu.Lock()
	o.incoming = nil
	o.outgoing = nil
	o.verifyRegions = nil
	o.unverifiedRegions = nil
	o.dependentChildrenMapped = nil
	o.executionPreconditions = nil
	o.logicalRecords = nil
	o.parent = nil
	o.childrenMapped = nil
	o.trace = nil
	o.tracing = false
	o.mustEpoch = nil
	o.excludeOp = nil
	o.mu.Unlock()
	if o.release != nil {
		o.release(o.self)
	}
}

// Activate is the default slot-activation hook.
func (o *Operation) Activate() { o.activateOperation() }

// Deactivate is the default slot-deactivation hook.
func (o *Operation) Deactivate() { o.deactivateOperation() }

// RunDependenceAnalysis drives Phase B for one operation: fence
// analysis, trace registration or replay, and the op's own traversal,
// all bracketed by the analysis placeholder.
func RunDependenceAnalysis(op Op) {
	b := op.Base()
	b.BeginDependenceAnalysis()
	tr := b.trace
	switch {
	case tr != nil && tr.IsFixed():
		tr.RegisterOperation(op, b.Generation())
		if !tr.ReplayDependences(op) {
			// A referenced predecessor went stale; fall back to a
			// full re-analysis for this op.
			b.parent.PerformFenceAnalysis(op)
			op.TriggerDependenceAnalysis()
		}
	case tr != nil:
		tr.RegisterOperation(op, b.Generation())
		b.parent.PerformFenceAnalysis(op)
		op.TriggerDependenceAnalysis()
	default:
		b.parent.PerformFenceAnalysis(op)
		op.TriggerDependenceAnalysis()
	}
	b.EndDependenceAnalysis()
}

// TriggerDependenceAnalysis is the default Phase B body: nothing to
// traverse.
func (o *Operation) TriggerDependenceAnalysis() {}
