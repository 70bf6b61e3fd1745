package ops

import (
	"context"
)

// FenceKind selects how much ordering a fence enforces.
type FenceKind int

const (
	// MappingFence orders the mapping of every prior operation before
	// this one; executions may still overlap.
	MappingFence FenceKind = iota
	// ExecutionFence additionally orders completions.
	ExecutionFence
	// MixedFence behaves as an execution fence that later ops also
	// treat as a mapping barrier.
	MixedFence
)

// FenceOp orders operations within one context.
type FenceOp struct {
	Operation
	fenceKind FenceKind
}

// InitializeFence starts a fence of the given kind.
func (f *FenceOp) InitializeFence(parent ParentContext, kind FenceKind) {
	f.Initialize(parent, true, nil, 0)
	f.fenceKind = kind
}

// FenceKind returns the fence's ordering strength.
func (f *FenceOp) FenceKind() FenceKind { return f.fenceKind }

func (f *FenceOp) TriggerDependenceAnalysis() {
	execution := f.fenceKind != MappingFence
	for _, entry := range f.parent.WindowOps() {
		if entry.Op == f.self {
			// Entries after the fence were registered later.
			break
		}
		if f.RegisterDependence(entry.Op, entry.Gen) != Registered {
			continue
		}
		if execution {
			f.AddExecutionPrecondition(entry.Op.Base().CompletionEvent())
		}
	}
	f.parent.UpdateCurrentFence(f.self, execution)
}

func (f *FenceOp) TriggerExecution(ctx context.Context) Outcome {
	f.CompleteMapping()
	return f.LaunchWhenReady(func() { f.CompleteExecution() })
}

// FrameOp is a fence that additionally bounds the number of in-flight
// frames in its context.
type FrameOp struct {
	FenceOp
}

// InitializeFrame starts a frame boundary; the context blocks new
// frames while too many are in flight.
func (f *FrameOp) InitializeFrame(parent ParentContext) {
	parent.BeginFrame()
	f.InitializeFence(parent, MixedFence)
}

func (f *FrameOp) TriggerComplete() {
	// Completion may commit and deactivate the frame, clearing parent.
	parent := f.parent
	f.CompleteOperation()
	parent.CompleteFrame()
}
