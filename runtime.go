package legion

import (
	"github.com/cqyuan/legion/model/domain"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/runtime/ops"
	"github.com/cqyuan/legion/runtime/task"
	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/filemem"
)

// Runtime is the surface the front-end launcher layer consumes: every
// issue call builds the operation from its freelist, initializes it in
// the calling context and submits it to the context's analysis queue.
type Runtime struct {
	service *Service
}

// IssueInlineMapping maps a region inline and returns the physical
// region handle; its Ready event fires when the contents are valid.
func (r *Runtime) IssueInlineMapping(ctx *task.Context, launcher ops.InlineLauncher) (*ops.PhysicalRegion, error) {
	op := ctx.Pools().GetMapOp()
	physical, err := op.InitializeMap(ctx, launcher)
	if err != nil {
		return nil, err
	}
	ctx.Submit(op)
	return physical, nil
}

// IssueCopy issues a deferred copy between region pairs.
func (r *Runtime) IssueCopy(ctx *task.Context, launcher ops.CopyLauncher) error {
	op := ctx.Pools().GetCopyOp()
	if err := op.InitializeCopy(ctx, launcher); err != nil {
		return err
	}
	ctx.Submit(op)
	return nil
}

// IssueFill initializes region fields to a value.
func (r *Runtime) IssueFill(ctx *task.Context, launcher ops.FillLauncher) error {
	op := ctx.Pools().GetFillOp()
	if err := op.InitializeFill(ctx, launcher); err != nil {
		return err
	}
	ctx.Submit(op)
	return nil
}

// IssueAcquire takes user-level coherence on a region.
func (r *Runtime) IssueAcquire(ctx *task.Context, launcher ops.AcquireLauncher) error {
	op := ctx.Pools().GetAcquireOp()
	if err := op.InitializeAcquire(ctx, launcher); err != nil {
		return err
	}
	ctx.Submit(op)
	return nil
}

// IssueRelease returns user-level coherence on a region.
func (r *Runtime) IssueRelease(ctx *task.Context, launcher ops.ReleaseLauncher) error {
	op := ctx.Pools().GetReleaseOp()
	if err := op.InitializeRelease(ctx, launcher); err != nil {
		return err
	}
	ctx.Submit(op)
	return nil
}

// IssueFence orders the context; the returned event fires when the
// fence completes.
func (r *Runtime) IssueFence(ctx *task.Context, kind ops.FenceKind) event.Event {
	op := ctx.Pools().GetFenceOp()
	op.InitializeFence(ctx, kind)
	completion := op.CompletionEvent()
	ctx.Submit(op)
	return completion
}

// IssueFrame bounds the in-flight operation window; the call blocks
// while too many frames are outstanding.
func (r *Runtime) IssueFrame(ctx *task.Context) event.Event {
	op := ctx.Pools().GetFrameOp()
	op.InitializeFrame(ctx)
	completion := op.CompletionEvent()
	ctx.Submit(op)
	return completion
}

// IssueLogicalRegionDeletion defers deleting a logical region until all
// its users are done.
func (r *Runtime) IssueLogicalRegionDeletion(ctx *task.Context, handle region.LogicalRegion) {
	op := ctx.Pools().GetDeletionOp()
	op.InitializeLogicalRegionDeletion(ctx, handle)
	ctx.Submit(op)
}

// IssueIndexSpaceDeletion defers deleting an index space.
func (r *Runtime) IssueIndexSpaceDeletion(ctx *task.Context, handle region.IndexSpace) {
	op := ctx.Pools().GetDeletionOp()
	op.InitializeIndexSpaceDeletion(ctx, handle)
	ctx.Submit(op)
}

// IssueFieldDeletions defers deleting fields of a field space.
func (r *Runtime) IssueFieldDeletions(ctx *task.Context, handle region.FieldSpace, fields []region.FieldID) {
	op := ctx.Pools().GetDeletionOp()
	op.InitializeFieldDeletions(ctx, handle, fields)
	ctx.Submit(op)
}

// IssueAttach binds an external file to a region.
func (r *Runtime) IssueAttach(ctx *task.Context, launcher ops.AttachLauncher) (*ops.PhysicalRegion, error) {
	op := ctx.Pools().GetAttachOp()
	physical, err := op.InitializeAttach(ctx, launcher)
	if err != nil {
		return nil, err
	}
	ctx.Submit(op)
	return physical, nil
}

// IssueDetach tears down a previously attached file once every
// consumer of the region has completed.
func (r *Runtime) IssueDetach(ctx *task.Context, physical *ops.PhysicalRegion, instance filemem.InstanceID) {
	op := ctx.Pools().GetDetachOp()
	op.InitializeDetach(ctx, physical, instance)
	ctx.Submit(op)
}

// IssuePendingPartition defers a partition computation described by the
// thunk; the returned event fires when the metadata is ready.
func (r *Runtime) IssuePendingPartition(ctx *task.Context, thunk ops.PartitionThunk) event.Event {
	op := ctx.Pools().GetPendingPartitionOp()
	op.InitializePendingPartition(ctx, thunk)
	ready := op.HandleReady()
	ctx.Submit(op)
	return ready
}

// IssuePartitionByField computes a partition from a coloring field.
func (r *Runtime) IssuePartitionByField(ctx *task.Context, pid region.IndexPartition,
	handle, parent region.LogicalRegion, colorSpace domain.Domain, fid region.FieldID) (event.Event, error) {
	op := ctx.Pools().GetDependentPartitionOp()
	if err := op.InitializeByField(ctx, pid, handle, parent, colorSpace, fid); err != nil {
		return nil, err
	}
	ready := op.HandleReady()
	ctx.Submit(op)
	return ready, nil
}

// IssuePartitionByImage computes an image partition.
func (r *Runtime) IssuePartitionByImage(ctx *task.Context, pid region.IndexPartition,
	projection region.LogicalPartition, parent region.LogicalRegion,
	fid region.FieldID, colorSpace domain.Domain) (event.Event, error) {
	op := ctx.Pools().GetDependentPartitionOp()
	if err := op.InitializeByImage(ctx, pid, projection, parent, fid, colorSpace); err != nil {
		return nil, err
	}
	ready := op.HandleReady()
	ctx.Submit(op)
	return ready, nil
}

// IssuePartitionByPreimage computes a preimage partition.
func (r *Runtime) IssuePartitionByPreimage(ctx *task.Context, pid, projection region.IndexPartition,
	handle, parent region.LogicalRegion, fid region.FieldID, colorSpace domain.Domain) (event.Event, error) {
	op := ctx.Pools().GetDependentPartitionOp()
	if err := op.InitializeByPreimage(ctx, pid, projection, handle, parent, fid, colorSpace); err != nil {
		return nil, err
	}
	ready := op.HandleReady()
	ctx.Submit(op)
	return ready, nil
}

// IssueDynamicCollective reads a collective's value into a future.
func (r *Runtime) IssueDynamicCollective(ctx *task.Context, dc ops.DynamicCollective) event.Future {
	op := ctx.Pools().GetDynamicCollectiveOp()
	future := op.InitializeCollective(ctx, dc)
	ctx.Submit(op)
	return future
}

// BeginTrace starts capturing or replaying the trace named id.
func (r *Runtime) BeginTrace(ctx *task.Context, id ops.TraceID) error {
	return ctx.BeginTrace(id)
}

// EndTrace ends the trace named id.
func (r *Runtime) EndTrace(ctx *task.Context, id ops.TraceID) error {
	return ctx.EndTrace(id)
}

// CreatePredicate makes a predicate out of a future.
func (r *Runtime) CreatePredicate(ctx *task.Context, f event.Future) ops.Predicate {
	op := ctx.Pools().GetFuturePredOp()
	op.InitializeFuturePred(ctx, f)
	pred := ops.Predicate{Impl: op, Gen: op.Generation()}
	ctx.Submit(op)
	return pred
}

// PredicateNot negates a predicate.
func (r *Runtime) PredicateNot(ctx *task.Context, p ops.Predicate) ops.Predicate {
	if p.Const {
		if p.Value {
			return ops.FalsePred
		}
		return ops.TruePred
	}
	op := ctx.Pools().GetNotPredOp()
	op.InitializeNotPred(ctx, p)
	pred := ops.Predicate{Impl: op, Gen: op.Generation()}
	ctx.Submit(op)
	return pred
}

// PredicateAnd conjoins two predicates with short-circuit resolution.
func (r *Runtime) PredicateAnd(ctx *task.Context, p1, p2 ops.Predicate) ops.Predicate {
	if p1.Const && p2.Const {
		if p1.Value && p2.Value {
			return ops.TruePred
		}
		return ops.FalsePred
	}
	op := ctx.Pools().GetAndPredOp()
	op.InitializeAndPred(ctx, p1, p2)
	pred := ops.Predicate{Impl: op, Gen: op.Generation()}
	ctx.Submit(op)
	return pred
}

// PredicateOr disjoins two predicates with short-circuit resolution.
func (r *Runtime) PredicateOr(ctx *task.Context, p1, p2 ops.Predicate) ops.Predicate {
	if p1.Const && p2.Const {
		if p1.Value || p2.Value {
			return ops.TruePred
		}
		return ops.FalsePred
	}
	op := ctx.Pools().GetOrPredOp()
	op.InitializeOrPred(ctx, p1, p2)
	pred := ops.Predicate{Impl: op, Gen: op.Generation()}
	ctx.Submit(op)
	return pred
}

// LaunchTask hands a single task across the task-layer boundary and
// returns its result future.
func (r *Runtime) LaunchTask(ctx *task.Context, launcher ops.TaskLauncher) (event.Future, error) {
	op := ctx.Pools().GetTaskOp()
	future, err := op.InitializeTask(ctx, launcher)
	if err != nil {
		return nil, err
	}
	ctx.Submit(op)
	return future, nil
}

// NewEpochTask builds a task for inclusion in a must-epoch launcher.
// The task is not submitted on its own; the epoch drives it.
func (r *Runtime) NewEpochTask(ctx *task.Context, launcher ops.TaskLauncher) (*ops.TaskOp, event.Future, error) {
	op := ctx.Pools().GetTaskOp()
	future, err := op.InitializeTask(ctx, launcher)
	if err != nil {
		return nil, nil, err
	}
	return op, future, nil
}

// IssueMustEpoch schedules a group of tasks that must run
// simultaneously and returns the future map their results aggregate
// into.
func (r *Runtime) IssueMustEpoch(ctx *task.Context, launcher ops.MustEpochLauncher) (*event.FutureMap, error) {
	op := ctx.Pools().GetMustEpochOp()
	result, err := op.InitializeMustEpoch(ctx, launcher)
	if err != nil {
		return nil, err
	}
	ctx.Submit(op)
	return result, nil
}
