package ops

// Kind enumerates every operation variant the graph can hold.
type Kind int

const (
	MapOpKind Kind = iota
	CopyOpKind
	FenceOpKind
	FrameOpKind
	DeletionOpKind
	InterCloseOpKind
	PostCloseOpKind
	AcquireOpKind
	ReleaseOpKind
	DynamicCollectiveOpKind
	FuturePredOpKind
	NotPredOpKind
	AndPredOpKind
	OrPredOpKind
	MustEpochOpKind
	PendingPartitionOpKind
	DependentPartitionOpKind
	FillOpKind
	AttachOpKind
	DetachOpKind
	TraceCaptureOpKind
	TraceCompleteOpKind
	TaskOpKind
	lastOpKind
)

var opNames = [lastOpKind]string{
	"Mapping",
	"Copy",
	"Fence",
	"Frame",
	"Deletion",
	"Inter Close",
	"Post Close",
	"Acquire",
	"Release",
	"Dynamic Collective",
	"Future Predicate",
	"Not Predicate",
	"And Predicate",
	"Or Predicate",
	"Must Epoch",
	"Pending Partition",
	"Dependent Partition",
	"Fill",
	"Attach",
	"Detach",
	"Trace Capture",
	"Trace Complete",
	"Task",
}

func (k Kind) String() string {
	if k < 0 || k >= lastOpKind {
		return "Unknown"
	}
	return opNames[k]
}
