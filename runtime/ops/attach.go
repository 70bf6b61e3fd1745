package ops

import (
	"context"

	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/filemem"
	"github.com/cqyuan/legion/service/mapper"
)

// FileMode selects how an attached file may be used.
type FileMode int

const (
	FileReadOnly FileMode = iota
	FileReadWrite
	FileCreate
)

// AttachLauncher binds an external file to a region.
type AttachLauncher struct {
	Requirement region.Requirement           `json:"requirement" yaml:"requirement"`
	FileURL     string                       `json:"fileURL" yaml:"fileURL"`
	FieldMap    map[region.FieldID]string    `json:"fieldMap,omitempty" yaml:"fieldMap,omitempty"`
	Mode        FileMode                     `json:"mode" yaml:"mode"`
	SizeBytes   int64                        `json:"sizeBytes" yaml:"sizeBytes"`
}

// AttachOp binds an external file to a region's physical instance.
// The attach holds the region exclusively so no consumer can observe
// the instance before the attach completes.
type AttachOp struct {
	Operation
	requirement region.Requirement
	fileURL     string
	fieldMap    map[region.FieldID]string
	fileMode    FileMode
	sizeBytes   int64
	instance    *filemem.Instance
	region      *PhysicalRegion
}

// InitializeAttach validates and starts the attach, returning the
// physical region handle whose Ready event gates all consumers.
func (a *AttachOp) InitializeAttach(parent ParentContext, launcher AttachLauncher) (*PhysicalRegion, error) {
	if err := parent.CheckPrivilege(&launcher.Requirement); err != nil {
		return nil, err
	}
	a.Initialize(parent, true, nil, 1)
	a.requirement = launcher.Requirement
	a.requirement.Coherence = region.Exclusive
	a.requirement.Privilege = region.ReadWrite
	a.fileURL = launcher.FileURL
	a.fieldMap = launcher.FieldMap
	a.fileMode = launcher.Mode
	a.sizeBytes = launcher.SizeBytes
	if a.sizeBytes <= 0 {
		a.sizeBytes = 1
	}
	a.region = &PhysicalRegion{
		Requirement: a.requirement,
		Ready:       a.CompletionEvent(),
	}
	return a.region, nil
}

// Instance returns the attached file instance after completion.
func (a *AttachOp) Instance() *filemem.Instance { return a.instance }

func (a *AttachOp) TriggerDependenceAnalysis() {
	a.parent.AnalyzeRegion(a.self, 0, &a.requirement)
}

func (a *AttachOp) TriggerExecution(ctx context.Context) Outcome {
	a.CompleteMapping()
	return a.LaunchWhenReady(func() {
		inst, err := a.env.Files.Attach(ctx, a.fileURL, a.sizeBytes)
		if err != nil {
			if a.env.Log != nil {
				a.env.Log.WithError(err).WithField("file", a.fileURL).Error("attach failed")
			}
			a.Poison()
			a.CompleteExecution()
			return
		}
		a.instance = inst
		a.region.Instance = mapper.InstanceRef{Memory: "file", Instance: uint64(inst.ID)}
		a.CompleteExecution()
	})
}

func (a *AttachOp) Deactivate() {
	a.requirement = region.Requirement{}
	a.fieldMap = nil
	a.instance = nil
	a.region = nil
	a.deactivateOperation()
}

// DetachOp tears down an attached file. It cannot run until every
// consumer of the attached instance has completed, which falls out of
// the edge model: the detach writes the region, so it depends on all
// prior users.
type DetachOp struct {
	Operation
	requirement region.Requirement
	instance    filemem.InstanceID
}

// InitializeDetach starts the detach of a previously attached region.
func (d *DetachOp) InitializeDetach(parent ParentContext, physical *PhysicalRegion, instance filemem.InstanceID) {
	d.Initialize(parent, true, nil, 1)
	d.requirement = physical.Requirement
	d.requirement.Privilege = region.ReadWrite
	d.requirement.Coherence = region.Exclusive
	d.instance = instance
}

func (d *DetachOp) TriggerDependenceAnalysis() {
	d.parent.AnalyzeRegion(d.self, 0, &d.requirement)
}

func (d *DetachOp) TriggerExecution(ctx context.Context) Outcome {
	d.CompleteMapping()
	return d.LaunchWhenReady(func() {
		if err := d.env.Files.Detach(ctx, d.instance); err != nil && d.env.Log != nil {
			d.env.Log.WithError(err).Warn("detach of unknown instance")
		}
		d.CompleteExecution()
	})
}

func (d *DetachOp) Deactivate() {
	d.requirement = region.Requirement{}
	d.instance = 0
	d.deactivateOperation()
}
