package ops

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cqyuan/legion/internal/idgen"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/filemem"
	"github.com/cqyuan/legion/service/forest"
	"github.com/cqyuan/legion/service/mapper"
)

// GenerationID disambiguates reuses of an operation slot.
type GenerationID uint64

// UniqueID identifies one operation generation globally.
type UniqueID uint64

// Outcome is the result of a trigger-stage invocation.
type Outcome int

const (
	// Proceed means the stage completed synchronously.
	Proceed Outcome = iota
	// Deferred means the stage parked on an event and will resume.
	Deferred
	// Stale means the target generation had already advanced.
	Stale
	// Poisoned means the stage observed or produced poison.
	Poisoned
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case Deferred:
		return "deferred"
	case Stale:
		return "stale"
	case Poisoned:
		return "poisoned"
	}
	return "unknown"
}

// Registration is the result of a dependence-registration attempt.
type Registration int

const (
	// Registered means the edge was added.
	Registered Registration = iota
	// StaleReference means the target slot had been recycled; no edge.
	StaleReference
	// AlreadyCommitted means the target committed under the matching
	// generation; no edge is needed.
	AlreadyCommitted
)

// Env bundles the external collaborators every operation consumes.
type Env struct {
	Events event.System
	Mapper mapper.Mapper
	Forest forest.Forest
	Files  *filemem.FileMemory
	IDs    *idgen.Allocator
	Log    *logrus.Entry

	// Ready enqueues an operation for execution by the workers.
	Ready func(op Op)

	// Defer enqueues trigger work onto the runtime task queue so no
	// stage transition runs nested under another op's lock.
	Defer func(fn func())
}

func (e *Env) enqueue(fn func()) {
	if e.Defer != nil {
		e.Defer(fn)
		return
	}
	go fn()
}

func (e *Env) ready(op Op) {
	if e.Ready != nil {
		e.Ready(op)
		return
	}
	// Without a scheduler wired in, run execution inline on the
	// deferred queue.
	e.enqueue(func() {
		op.TriggerExecution(context.Background())
	})
}

// OpGen pairs an operation with the generation it was observed at.
type OpGen struct {
	Op  Op
	Gen GenerationID
}

// LogicalUser is one prior user of a logical region recorded during the
// logical traversal.
type LogicalUser struct {
	Op          Op
	Gen         GenerationID
	Idx         int
	Requirement region.Requirement
}

// ParentContext is the contract the core consumes from the enclosing
// parent task. A context owns its submitted operations until commit.
type ParentContext interface {
	ID() string
	Env() *Env

	// CheckPrivilege verifies a requirement is subsumed by the
	// context's own privileges.
	CheckPrivilege(req *region.Requirement) error

	// RegisterChild tracks a newly initialized operation and holds a
	// mapping reference on it until it completes.
	RegisterChild(op Op)
	ChildComplete(op Op)
	ChildCommit(op Op)

	// AnalyzeRegion walks the logical state for one requirement and
	// registers discovered dependences on op.
	AnalyzeRegion(op Op, idx int, req *region.Requirement)

	// PerformFenceAnalysis registers a dependence on the context's
	// current fence, if any.
	PerformFenceAnalysis(op Op)

	// UpdateCurrentFence makes op the context's current fence;
	// execution reports whether later ops must also wait for its
	// completion.
	UpdateCurrentFence(op Op, execution bool)

	// CurrentTrace returns the trace being captured or replayed.
	CurrentTrace() *Trace

	// WindowOps snapshots the operations still tracked by the context,
	// in submission order.
	WindowOps() []OpGen

	// RaiseRestart reports a misspeculation restart request to the
	// context. The context records it; it does not replay operations.
	RaiseRestart(op Op)

	ReportAliased(op Op, idx1, idx2 int)

	BeginFrame()
	CompleteFrame()

	// ReleaseRegion drops the logical state of a deleted region.
	ReleaseRegion(r region.LogicalRegion)
}
