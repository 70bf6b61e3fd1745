package ops

import (
	"context"

	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/mapper"
)

// PhysicalRegion is the application-visible handle produced by inline
// mappings and attaches. Ready fires when the contents are valid.
type PhysicalRegion struct {
	Requirement region.Requirement
	Instance    mapper.InstanceRef
	Ready       event.Event
}

// InlineLauncher describes an inline mapping request.
type InlineLauncher struct {
	Requirement region.Requirement `json:"requirement" yaml:"requirement"`
}

// MapOp computes an inline mapping. Inline mappings complete and commit
// early: once mapped, their contents escape to the application and can
// no longer be rolled back, so they never wait on consumer
// verification.
type MapOp struct {
	Operation
	requirement region.Requirement
	placement   mapper.Placement
	region      *PhysicalRegion
}

// InitializeMap validates the launcher against the parent's privileges
// and returns the physical region handle.
func (m *MapOp) InitializeMap(parent ParentContext, launcher InlineLauncher) (*PhysicalRegion, error) {
	if err := parent.CheckPrivilege(&launcher.Requirement); err != nil {
		return nil, err
	}
	m.Initialize(parent, true, nil, 1)
	m.requirement = launcher.Requirement
	m.region = &PhysicalRegion{
		Requirement: launcher.Requirement,
		Ready:       m.CompletionEvent(),
	}
	m.RequestEarlyCommit()
	return m.region, nil
}

// Requirement returns the op's single region requirement.
func (m *MapOp) Requirement() region.Requirement { return m.requirement }

func (m *MapOp) TriggerDependenceAnalysis() {
	m.parent.AnalyzeRegion(m.self, 0, &m.requirement)
}

func (m *MapOp) TriggerExecution(ctx context.Context) Outcome {
	placement, err := m.env.Mapper.MapInline(ctx, &mapper.Request{
		OpID:         uint64(m.UniqueOpID()),
		Kind:         m.kind.String(),
		Requirements: []region.Requirement{m.requirement},
	})
	if err != nil {
		m.Poison()
		m.CompleteMapping()
		m.CompleteExecution()
		return Poisoned
	}
	m.placement = placement
	if len(placement.Instances) > 0 {
		m.region.Instance = placement.Instances[0]
	}
	m.CompleteMapping()
	return m.LaunchWhenReady(func() { m.CompleteExecution() })
}

func (m *MapOp) Deactivate() {
	m.requirement = region.Requirement{}
	m.placement = mapper.Placement{}
	m.region = nil
	m.deactivateOperation()
}
