package ops

import (
	"context"

	"github.com/cqyuan/legion/model/domain"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/forest"
)

// PartitionThunk is one deferred partition computation. Perform runs
// the corresponding forest primitive and returns its readiness event.
type PartitionThunk interface {
	Perform(ctx context.Context, f forest.Forest) event.Event
}

// EqualPartitionThunk splits an index space into equal pieces.
type EqualPartitionThunk struct {
	Pid         region.IndexPartition
	Granularity int
}

func (t EqualPartitionThunk) Perform(ctx context.Context, f forest.Forest) event.Event {
	return f.CreateEqualPartition(ctx, t.Pid, t.Granularity)
}

// WeightedPartitionThunk splits an index space by per-color weights.
type WeightedPartitionThunk struct {
	Pid         region.IndexPartition
	Granularity int
	Weights     map[domain.Point]int
}

func (t WeightedPartitionThunk) Perform(ctx context.Context, f forest.Forest) event.Event {
	return f.CreateWeightedPartition(ctx, t.Pid, t.Granularity, t.Weights)
}

// UnionPartitionThunk forms the pairwise union of two partitions.
type UnionPartitionThunk struct {
	Pid, Handle1, Handle2 region.IndexPartition
}

func (t UnionPartitionThunk) Perform(ctx context.Context, f forest.Forest) event.Event {
	return f.CreatePartitionByUnion(ctx, t.Pid, t.Handle1, t.Handle2)
}

// IntersectionPartitionThunk forms the pairwise intersection.
type IntersectionPartitionThunk struct {
	Pid, Handle1, Handle2 region.IndexPartition
}

func (t IntersectionPartitionThunk) Perform(ctx context.Context, f forest.Forest) event.Event {
	return f.CreatePartitionByIntersection(ctx, t.Pid, t.Handle1, t.Handle2)
}

// DifferencePartitionThunk forms the pairwise difference.
type DifferencePartitionThunk struct {
	Pid, Handle1, Handle2 region.IndexPartition
}

func (t DifferencePartitionThunk) Perform(ctx context.Context, f forest.Forest) event.Event {
	return f.CreatePartitionByDifference(ctx, t.Pid, t.Handle1, t.Handle2)
}

// CrossProductThunk forms cross-product partitions.
type CrossProductThunk struct {
	Base, Source region.IndexPartition
	Handles      map[domain.Point]region.IndexPartition
}

func (t CrossProductThunk) Perform(ctx context.Context, f forest.Forest) event.Event {
	return f.CreateCrossProduct(ctx, t.Base, t.Source, t.Handles)
}

// ComputePendingSpaceThunk resolves a pending index space from a set
// union or intersection.
type ComputePendingSpaceThunk struct {
	Target  region.IndexSpace
	IsUnion bool
	Handles []region.IndexSpace
}

func (t ComputePendingSpaceThunk) Perform(ctx context.Context, f forest.Forest) event.Event {
	return f.ComputePendingSpace(ctx, t.Target, t.IsUnion, t.Handles)
}

// ComputePendingDifferenceThunk resolves a pending index space from a
// set difference.
type ComputePendingDifferenceThunk struct {
	Target, Initial region.IndexSpace
	Handles         []region.IndexSpace
}

func (t ComputePendingDifferenceThunk) Perform(ctx context.Context, f forest.Forest) event.Event {
	return f.ComputePendingDifference(ctx, t.Target, t.Initial, t.Handles)
}

// PendingPartitionOp defers a partition computation off the application
// thread. Pure metadata: it has no region requirements and no data
// dependence analysis.
type PendingPartitionOp struct {
	Operation
	thunk       PartitionThunk
	handleReady event.UserEvent
}

// InitializePendingPartition starts the op with the given thunk.
func (p *PendingPartitionOp) InitializePendingPartition(parent ParentContext, thunk PartitionThunk) {
	p.Initialize(parent, true, nil, 0)
	p.thunk = thunk
	p.handleReady = p.env.Events.NewUserEvent()
}

// HandleReady fires once the partition metadata is available.
func (p *PendingPartitionOp) HandleReady() event.Event { return p.handleReady }

func (p *PendingPartitionOp) TriggerExecution(ctx context.Context) Outcome {
	p.CompleteMapping()
	ready := p.thunk.Perform(ctx, p.env.Forest)
	gen := p.Generation()
	handle := p.handleReady
	finish := func(poisoned bool) {
		if poisoned {
			handle.TriggerWithPoison()
			p.Poison()
			p.QuashOperation(gen, false)
			return
		}
		handle.Trigger()
		p.CompleteExecution()
	}
	if ready.Triggered() {
		finish(ready.Poisoned())
		if ready.Poisoned() {
			return Poisoned
		}
		return Proceed
	}
	ready.Subscribe(func(poisoned bool) {
		p.env.enqueue(func() { finish(poisoned) })
	})
	return Deferred
}

func (p *PendingPartitionOp) Deactivate() {
	p.thunk = nil
	p.handleReady = nil
	p.deactivateOperation()
}

// DependentPartitionKind selects how a dependent partition derives its
// coloring from field data.
type DependentPartitionKind int

const (
	ByFieldKind DependentPartitionKind = iota
	ByImageKind
	ByPreimageKind
)

// DependentPartitionOp computes a partition that depends on mapping and
// reading a field of a region, so it runs the full dependence pipeline.
type DependentPartitionOp struct {
	Operation
	partitionKind DependentPartitionKind
	requirement   region.Requirement
	partition     region.IndexPartition
	projection    region.IndexPartition
	projectionLP  region.LogicalPartition
	colorSpace    domain.Domain
	handleReady   event.UserEvent
}

// InitializeByField partitions by the values of a coloring field.
func (d *DependentPartitionOp) InitializeByField(parent ParentContext, pid region.IndexPartition,
	handle, parentRegion region.LogicalRegion, colorSpace domain.Domain, fid region.FieldID) error {
	req := region.Requirement{
		Region:    handle,
		Parent:    parentRegion,
		Privilege: region.ReadOnly,
		Coherence: region.Exclusive,
		Fields:    []region.FieldID{fid},
	}
	if err := parent.CheckPrivilege(&req); err != nil {
		return err
	}
	d.Initialize(parent, true, nil, 1)
	d.partitionKind = ByFieldKind
	d.requirement = req
	d.partition = pid
	d.colorSpace = colorSpace
	d.handleReady = d.env.Events.NewUserEvent()
	return nil
}

// InitializeByImage partitions by the image of a pointer field through
// a projection partition.
func (d *DependentPartitionOp) InitializeByImage(parent ParentContext, pid region.IndexPartition,
	projection region.LogicalPartition, parentRegion region.LogicalRegion,
	fid region.FieldID, colorSpace domain.Domain) error {
	req := region.Requirement{
		Region:    parentRegion,
		Parent:    parentRegion,
		Privilege: region.ReadOnly,
		Coherence: region.Exclusive,
		Fields:    []region.FieldID{fid},
	}
	if err := parent.CheckPrivilege(&req); err != nil {
		return err
	}
	d.Initialize(parent, true, nil, 1)
	d.partitionKind = ByImageKind
	d.requirement = req
	d.partition = pid
	d.projectionLP = projection
	d.colorSpace = colorSpace
	d.handleReady = d.env.Events.NewUserEvent()
	return nil
}

// InitializeByPreimage partitions by the preimage of a pointer field
// under a projection partition.
func (d *DependentPartitionOp) InitializeByPreimage(parent ParentContext, pid, projection region.IndexPartition,
	handle, parentRegion region.LogicalRegion, fid region.FieldID, colorSpace domain.Domain) error {
	req := region.Requirement{
		Region:    handle,
		Parent:    parentRegion,
		Privilege: region.ReadOnly,
		Coherence: region.Exclusive,
		Fields:    []region.FieldID{fid},
	}
	if err := parent.CheckPrivilege(&req); err != nil {
		return err
	}
	d.Initialize(parent, true, nil, 1)
	d.partitionKind = ByPreimageKind
	d.requirement = req
	d.partition = pid
	d.projection = projection
	d.colorSpace = colorSpace
	d.handleReady = d.env.Events.NewUserEvent()
	return nil
}

// HandleReady fires once the partition metadata is available.
func (d *DependentPartitionOp) HandleReady() event.Event { return d.handleReady }

func (d *DependentPartitionOp) TriggerDependenceAnalysis() {
	d.parent.AnalyzeRegion(d.self, 0, &d.requirement)
}

func (d *DependentPartitionOp) TriggerExecution(ctx context.Context) Outcome {
	d.CompleteMapping()
	return d.LaunchWhenReady(func() {
		var ready event.Event
		switch d.partitionKind {
		case ByFieldKind:
			ready = d.env.Forest.PartitionByField(ctx, d.partition, &d.requirement, d.colorSpace)
		case ByImageKind:
			ready = d.env.Forest.PartitionByImage(ctx, d.partition, d.projectionLP, &d.requirement, d.colorSpace)
		case ByPreimageKind:
			ready = d.env.Forest.PartitionByPreimage(ctx, d.partition, d.projection, &d.requirement, d.colorSpace)
		}
		gen := d.Generation()
		handle := d.handleReady
		ready.Subscribe(func(poisoned bool) {
			if poisoned {
				handle.TriggerWithPoison()
				d.Poison()
				d.QuashOperation(gen, false)
				return
			}
			handle.Trigger()
			d.CompleteExecution()
		})
	})
}

func (d *DependentPartitionOp) Deactivate() {
	d.requirement = region.Requirement{}
	d.handleReady = nil
	d.deactivateOperation()
}
