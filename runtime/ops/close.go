package ops

import (
	"context"

	"github.com/cqyuan/legion/model/domain"
	"github.com/cqyuan/legion/model/region"
)

// CloseOp is the shared state of the runtime-internal close operations
// issued when a logical region state transition forces a close.
type CloseOp struct {
	Operation
	requirement region.Requirement
}

// Requirement returns the closed requirement.
func (c *CloseOp) Requirement() region.Requirement { return c.requirement }

// InterCloseOp merges dirty children of a region back before a new user
// takes over. The creating operation never receives an edge from its
// own close.
type InterCloseOp struct {
	CloseOp
	targetChildren []domain.Point
	leaveOpen      bool
	closeIdx       int
	createGen      GenerationID
}

// InitializeInterClose starts a close on behalf of creator's
// requirement closeIdx.
func (c *InterCloseOp) InitializeInterClose(parent ParentContext, req region.Requirement,
	creator Op, closeIdx int, leaveOpen bool) {
	c.Initialize(parent, true, nil, 1)
	c.requirement = req
	c.requirement.Privilege = region.ReadWrite
	c.requirement.Coherence = region.Exclusive
	c.leaveOpen = leaveOpen
	c.closeIdx = closeIdx
	c.createGen = creator.Base().Generation()
	c.setExcludedOp(creator, c.createGen)
}

// RecordTraceDependence memoizes an edge discovered for this close into
// the capturing trace, attributed to the creating op's requirement.
func (c *InterCloseOp) RecordTraceDependence(target Op, targetGen GenerationID) {
	if c.tracing && c.trace != nil {
		c.trace.recordRegionDependence(target, targetGen, c.self, c.Generation(), c.closeIdx)
	}
}

func (c *InterCloseOp) TriggerDependenceAnalysis() {
	c.parent.AnalyzeRegion(c.self, 0, &c.requirement)
}

func (c *InterCloseOp) TriggerExecution(ctx context.Context) Outcome {
	c.CompleteMapping()
	return c.LaunchWhenReady(func() { c.CompleteExecution() })
}

func (c *InterCloseOp) Deactivate() {
	c.requirement = region.Requirement{}
	c.targetChildren = nil
	c.closeIdx = 0
	c.deactivateOperation()
}

// PostCloseOp closes a task's region tree context back to the instance
// mapped by its parent once the task has finished executing.
type PostCloseOp struct {
	CloseOp
	parentIdx int
}

// InitializePostClose starts the close for the parent's requirement at
// index.
func (p *PostCloseOp) InitializePostClose(parent ParentContext, req region.Requirement, index int) {
	p.Initialize(parent, true, nil, 1)
	p.requirement = req
	p.requirement.Privilege = region.ReadWrite
	p.requirement.Coherence = region.Exclusive
	p.parentIdx = index
}

func (p *PostCloseOp) TriggerDependenceAnalysis() {
	p.parent.AnalyzeRegion(p.self, 0, &p.requirement)
}

func (p *PostCloseOp) TriggerExecution(ctx context.Context) Outcome {
	p.CompleteMapping()
	return p.LaunchWhenReady(func() { p.CompleteExecution() })
}

func (p *PostCloseOp) Deactivate() {
	p.requirement = region.Requirement{}
	p.parentIdx = 0
	p.deactivateOperation()
}
