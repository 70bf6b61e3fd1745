package ops

import (
	"github.com/cqyuan/legion/model/region"
)

// DeletionKind selects what a deletion operation removes.
type DeletionKind int

const (
	IndexSpaceDeletion DeletionKind = iota
	IndexPartitionDeletion
	FieldSpaceDeletion
	FieldDeletion
	LogicalRegionDeletion
	LogicalPartitionDeletion
)

// DeletionOp orders a deletion in its context. A logical-region deletion
// is analyzed as a writer of the region, so it waits for every earlier
// user, and drops the region's logical state at commit. The other kinds
// carry no region requirement: they are ordered only after the current
// fence and remove nothing at commit.
type DeletionOp struct {
	Operation
	deletionKind DeletionKind
	indexSpace   region.IndexSpace
	indexPart    region.IndexPartition
	fieldSpace   region.FieldSpace
	logical      region.LogicalRegion
	logicalPart  region.LogicalPartition
	freeFields   []region.FieldID
	requirement  region.Requirement
	hasRegion    bool
}

// InitializeIndexSpaceDeletion defers deleting an index space.
func (d *DeletionOp) InitializeIndexSpaceDeletion(parent ParentContext, handle region.IndexSpace) {
	d.Initialize(parent, true, nil, 0)
	d.deletionKind = IndexSpaceDeletion
	d.indexSpace = handle
}

// InitializeIndexPartDeletion defers deleting an index partition.
func (d *DeletionOp) InitializeIndexPartDeletion(parent ParentContext, handle region.IndexPartition) {
	d.Initialize(parent, true, nil, 0)
	d.deletionKind = IndexPartitionDeletion
	d.indexPart = handle
}

// InitializeFieldSpaceDeletion defers deleting a field space.
func (d *DeletionOp) InitializeFieldSpaceDeletion(parent ParentContext, handle region.FieldSpace) {
	d.Initialize(parent, true, nil, 0)
	d.deletionKind = FieldSpaceDeletion
	d.fieldSpace = handle
}

// InitializeFieldDeletions defers deleting fields of a field space.
func (d *DeletionOp) InitializeFieldDeletions(parent ParentContext, handle region.FieldSpace, fields []region.FieldID) {
	d.Initialize(parent, true, nil, 0)
	d.deletionKind = FieldDeletion
	d.fieldSpace = handle
	d.freeFields = fields
}

// InitializeLogicalRegionDeletion defers deleting a logical region and
// orders the deletion after every prior user.
func (d *DeletionOp) InitializeLogicalRegionDeletion(parent ParentContext, handle region.LogicalRegion) {
	d.Initialize(parent, true, nil, 1)
	d.deletionKind = LogicalRegionDeletion
	d.logical = handle
	d.requirement = region.Requirement{
		Region:    handle,
		Parent:    handle,
		Privilege: region.ReadWrite,
		Coherence: region.Exclusive,
		Fields:    allFields(),
	}
	d.hasRegion = true
}

// InitializeLogicalPartitionDeletion defers deleting a logical
// partition.
func (d *DeletionOp) InitializeLogicalPartitionDeletion(parent ParentContext, handle region.LogicalPartition) {
	d.Initialize(parent, true, nil, 0)
	d.deletionKind = LogicalPartitionDeletion
	d.logicalPart = handle
}

func allFields() []region.FieldID {
	fields := make([]region.FieldID, 64)
	for i := range fields {
		fields[i] = region.FieldID(i)
	}
	return fields
}

func (d *DeletionOp) TriggerDependenceAnalysis() {
	if d.hasRegion {
		d.parent.AnalyzeRegion(d.self, 0, &d.requirement)
	}
}

func (d *DeletionOp) TriggerCommit() {
	if d.hasRegion {
		d.parent.ReleaseRegion(d.logical)
	}
	d.CommitOperation()
}

func (d *DeletionOp) Deactivate() {
	d.freeFields = nil
	d.requirement = region.Requirement{}
	d.hasRegion = false
	d.deactivateOperation()
}
