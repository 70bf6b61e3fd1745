package ops

import (
	"context"
	"sync"

	"github.com/cqyuan/legion/model/region"
)

// TraceID names a trace within its parent context.
type TraceID uint64

// sentinelRequirement marks a trace dependence that did not come from a
// region requirement (fences, predicates).
const sentinelRequirement = -1

// traceDep is one memoized edge: the producer's position in the trace
// and the consumer requirement index it was discovered at.
type traceDep struct {
	operationIndex   int
	requirementIndex int
}

// Trace memoizes the dependence analysis of a repeated operation
// sequence. While capturing it appends operations and edges; once fixed
// it replays the edges verbatim and the analyzer is bypassed.
type Trace struct {
	id  TraceID
	ctx ParentContext

	mu          sync.Mutex
	fixed       bool
	operations  []OpGen
	opMap       map[opKey]int
	dependences [][]traceDep
	replayCount int
}

type opKey struct {
	op  Op
	gen GenerationID
}

// NewTrace returns an empty capturing trace.
func NewTrace(id TraceID, ctx ParentContext) *Trace {
	return &Trace{
		id:    id,
		ctx:   ctx,
		opMap: map[opKey]int{},
	}
}

// ID returns the trace id.
func (t *Trace) ID() TraceID { return t.id }

// IsFixed reports whether capture has finished.
func (t *Trace) IsFixed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fixed
}

// Len returns the number of operations captured.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.operations)
}

// Dependences returns a copy of the memoized edge sets.
func (t *Trace) Dependences() [][][2]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][][2]int, len(t.dependences))
	for i, deps := range t.dependences {
		for _, d := range deps {
			out[i] = append(out[i], [2]int{d.operationIndex, d.requirementIndex})
		}
	}
	return out
}

// RegisterOperation records an operation entering the trace. During
// capture the op is appended; during replay it fills the next slot so
// saved indices resolve against the live generation.
func (t *Trace) RegisterOperation(op Op, gen GenerationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.fixed {
		t.opMap[opKey{op, gen}] = len(t.operations)
		t.operations = append(t.operations, OpGen{Op: op, Gen: gen})
		t.dependences = append(t.dependences, nil)
		return
	}
	if t.replayCount < len(t.operations) {
		t.operations[t.replayCount] = OpGen{Op: op, Gen: gen}
	}
	t.replayCount++
}

// recordDependence memoizes a non-region edge. A no-op on fixed traces.
func (t *Trace) recordDependence(target Op, targetGen GenerationID, source Op, sourceGen GenerationID) {
	t.recordEdge(target, targetGen, source, sourceGen, sentinelRequirement)
}

// recordRegionDependence memoizes a region edge with the consumer's
// requirement index. A no-op on fixed traces.
func (t *Trace) recordRegionDependence(target Op, targetGen GenerationID, source Op, sourceGen GenerationID, idx int) {
	t.recordEdge(target, targetGen, source, sourceGen, idx)
}

func (t *Trace) recordEdge(target Op, targetGen GenerationID, source Op, sourceGen GenerationID, idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fixed {
		return
	}
	srcIdx, ok := t.opMap[opKey{source, sourceGen}]
	if !ok {
		return
	}
	tgtIdx, ok := t.opMap[opKey{target, targetGen}]
	if !ok {
		// Producer precedes the trace; the replayed fence ordering
		// covers it.
		return
	}
	t.dependences[srcIdx] = append(t.dependences[srcIdx], traceDep{
		operationIndex:   tgtIdx,
		requirementIndex: idx,
	})
}

// Fix freezes the trace: capture stops and subsequent executions replay
// the memoized edges.
func (t *Trace) Fix() {
	t.mu.Lock()
	t.fixed = true
	t.opMap = nil
	t.mu.Unlock()
}

// PrepareReplay resets the per-execution cursor.
func (t *Trace) PrepareReplay() {
	t.mu.Lock()
	t.replayCount = 0
	t.mu.Unlock()
}

// ReplayDependences replays the memoized edges for op. It returns false
// when a referenced predecessor's generation has advanced past the
// captured one, in which case the caller re-runs the full analysis.
func (t *Trace) ReplayDependences(op Op) bool {
	t.mu.Lock()
	index := t.replayCount - 1
	if index < 0 || index >= len(t.dependences) {
		t.mu.Unlock()
		return false
	}
	deps := t.dependences[index]
	preds := make([]OpGen, len(t.operations))
	copy(preds, t.operations)
	t.mu.Unlock()

	b := op.Base()
	for _, dep := range deps {
		if dep.operationIndex < 0 || dep.operationIndex >= len(preds) {
			return false
		}
		pred := preds[dep.operationIndex]
		var res Registration
		if dep.requirementIndex == sentinelRequirement {
			res = b.RegisterDependence(pred.Op, pred.Gen)
		} else {
			res = b.RegisterRegionDependence(dep.requirementIndex, pred.Op, pred.Gen,
				0, region.TrueDependence, false, 0)
		}
		if res == StaleReference {
			return false
		}
	}
	return true
}

// TraceCaptureOp ends a trace capture: it freezes the memoized
// dependence sets and flips the trace to fixed.
type TraceCaptureOp struct {
	Operation
	localTrace *Trace
}

// InitializeCapture starts the capture sentinel in the given context.
func (c *TraceCaptureOp) InitializeCapture(parent ParentContext) {
	c.Initialize(parent, true, nil, 0)
	// The capture op itself must not be recorded in the trace.
	c.mu.Lock()
	c.localTrace = c.trace
	c.trace = nil
	c.tracing = false
	c.mu.Unlock()
}

func (c *TraceCaptureOp) TriggerDependenceAnalysis() {
	// Order after everything the trace captured.
	for _, entry := range c.parent.WindowOps() {
		if entry.Op == c.self {
			continue
		}
		c.RegisterDependence(entry.Op, entry.Gen)
	}
	if c.localTrace != nil {
		c.localTrace.Fix()
	}
}

func (c *TraceCaptureOp) Deactivate() {
	c.localTrace = nil
	c.deactivateOperation()
}

// TraceCompleteOp ends one execution of a fixed trace. It is a fence
// over the trace members and becomes the context's current fence.
type TraceCompleteOp struct {
	FenceOp
	localTrace *Trace
}

// InitializeComplete starts the replay-completion fence.
func (c *TraceCompleteOp) InitializeComplete(parent ParentContext) {
	c.InitializeFence(parent, ExecutionFence)
	c.mu.Lock()
	c.localTrace = c.trace
	c.trace = nil
	c.tracing = false
	c.mu.Unlock()
}

func (c *TraceCompleteOp) TriggerDependenceAnalysis() {
	c.FenceOp.TriggerDependenceAnalysis()
	if c.localTrace != nil {
		c.localTrace.PrepareReplay()
	}
}

func (c *TraceCompleteOp) TriggerExecution(ctx context.Context) Outcome {
	return c.FenceOp.TriggerExecution(ctx)
}

func (c *TraceCompleteOp) Deactivate() {
	c.localTrace = nil
	c.deactivateOperation()
}
