// Package mapper defines the placement-policy contract the operation
// core consults. The core never decides where data lives; it asks the
// mapper and orchestrates around the answer.
package mapper

import (
	"context"
	"sync/atomic"

	"github.com/cqyuan/legion/model/region"
)

// InstanceRef names a physical instance selected by the mapper.
type InstanceRef struct {
	Memory   string `json:"memory" yaml:"memory"`
	Instance uint64 `json:"instance" yaml:"instance"`
}

// Placement carries one instance choice per region requirement.
type Placement struct {
	Instances []InstanceRef `json:"instances" yaml:"instances"`
}

// Request describes the operation being mapped.
type Request struct {
	OpID         uint64
	Kind         string
	Requirements []region.Requirement
}

// TaskSlot describes one task inside a must-parallel epoch.
type TaskSlot struct {
	Index        int
	Requirements []region.Requirement
}

// Constraint records an epoch-internal anti-dependence the mapper must
// resolve by placement: the two named requirements must share one
// physical instance so both tasks can run concurrently.
type Constraint struct {
	Task1 int
	Task2 int
	Req1  int
	Req2  int
	Dtype region.DependenceType
}

// Mapper is the abstract placement policy.
type Mapper interface {
	MapInline(ctx context.Context, req *Request) (Placement, error)
	MapCopy(ctx context.Context, req *Request) (Placement, error)
	MapTask(ctx context.Context, req *Request) (Placement, error)

	// MapMustEpoch maps every task of an epoch in one call and must
	// honor all constraints.
	MapMustEpoch(ctx context.Context, tasks []TaskSlot, constraints []Constraint) ([]Placement, error)

	// Speculate lets the mapper guess an unresolved predicate. When
	// speculate is false the operation waits for resolution instead.
	Speculate(ctx context.Context, req *Request) (speculate bool, value bool)
}

// Default is a deterministic mapper: everything lands in system memory,
// constrained epoch requirements share instances, and it never
// speculates.
type Default struct {
	nextInstance uint64
}

// NewDefault returns the default mapper.
func NewDefault() *Default { return &Default{} }

func (d *Default) allocate() InstanceRef {
	return InstanceRef{Memory: "sysmem", Instance: atomic.AddUint64(&d.nextInstance, 1)}
}

func (d *Default) mapRequirements(req *Request) Placement {
	p := Placement{Instances: make([]InstanceRef, len(req.Requirements))}
	for i := range req.Requirements {
		p.Instances[i] = d.allocate()
	}
	return p
}

func (d *Default) MapInline(_ context.Context, req *Request) (Placement, error) {
	return d.mapRequirements(req), nil
}

func (d *Default) MapCopy(_ context.Context, req *Request) (Placement, error) {
	return d.mapRequirements(req), nil
}

func (d *Default) MapTask(_ context.Context, req *Request) (Placement, error) {
	return d.mapRequirements(req), nil
}

func (d *Default) MapMustEpoch(_ context.Context, tasks []TaskSlot, constraints []Constraint) ([]Placement, error) {
	placements := make([]Placement, len(tasks))
	for i, t := range tasks {
		placements[i].Instances = make([]InstanceRef, len(t.Requirements))
		for j := range t.Requirements {
			placements[i].Instances[j] = d.allocate()
		}
	}
	// Constrained pairs collapse onto a shared instance.
	for _, c := range constraints {
		if c.Task1 >= len(placements) || c.Task2 >= len(placements) {
			continue
		}
		if c.Req1 >= len(placements[c.Task1].Instances) ||
			c.Req2 >= len(placements[c.Task2].Instances) {
			continue
		}
		placements[c.Task2].Instances[c.Req2] = placements[c.Task1].Instances[c.Req1]
	}
	return placements, nil
}

func (d *Default) Speculate(context.Context, *Request) (bool, bool) {
	return false, false
}
