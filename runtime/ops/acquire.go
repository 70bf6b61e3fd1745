package ops

import (
	"context"

	"github.com/cqyuan/legion/model/region"
)

// AcquireLauncher requests user-level coherence on a simultaneously
// held region.
type AcquireLauncher struct {
	Requirement region.Requirement `json:"requirement" yaml:"requirement"`
	Predicate   Predicate          `json:"-" yaml:"-"`
}

// ReleaseLauncher gives user-level coherence back.
type ReleaseLauncher struct {
	Requirement region.Requirement `json:"requirement" yaml:"requirement"`
	Predicate   Predicate          `json:"-" yaml:"-"`
}

// AcquireOp takes software coherence over a region held with
// simultaneous coherence.
type AcquireOp struct {
	SpeculativeOp
	requirement region.Requirement
}

// InitializeAcquire validates and starts the acquire.
func (a *AcquireOp) InitializeAcquire(parent ParentContext, launcher AcquireLauncher) error {
	if err := parent.CheckPrivilege(&launcher.Requirement); err != nil {
		return err
	}
	a.InitializeSpeculation(parent, true, nil, 1, launcher.Predicate)
	a.requirement = launcher.Requirement
	a.requirement.Privilege = region.ReadWrite
	a.requirement.Coherence = region.Exclusive
	return nil
}

// Requirement returns the acquired requirement.
func (a *AcquireOp) Requirement() region.Requirement { return a.requirement }

func (a *AcquireOp) TriggerDependenceAnalysis() {
	a.RegisterPredicateDependence()
	a.parent.AnalyzeRegion(a.self, 0, &a.requirement)
}

func (a *AcquireOp) Speculate(ctx context.Context) (bool, bool) {
	return a.env.Mapper.Speculate(ctx, a.speculationRequest())
}

func (a *AcquireOp) ResolveTrue() { a.ContinueMapping() }

func (a *AcquireOp) ResolveFalse() {
	a.CompleteMapping()
	a.CompleteExecution()
}

func (a *AcquireOp) TriggerExecution(ctx context.Context) Outcome {
	a.CompleteMapping()
	return a.LaunchWhenReady(func() { a.CompleteExecution() })
}

func (a *AcquireOp) Deactivate() {
	a.requirement = region.Requirement{}
	a.deactivateSpeculative()
}

// ReleaseOp releases software coherence previously acquired.
type ReleaseOp struct {
	SpeculativeOp
	requirement region.Requirement
}

// InitializeRelease validates and starts the release.
func (r *ReleaseOp) InitializeRelease(parent ParentContext, launcher ReleaseLauncher) error {
	if err := parent.CheckPrivilege(&launcher.Requirement); err != nil {
		return err
	}
	r.InitializeSpeculation(parent, true, nil, 1, launcher.Predicate)
	r.requirement = launcher.Requirement
	r.requirement.Privilege = region.ReadWrite
	r.requirement.Coherence = region.Exclusive
	return nil
}

func (r *ReleaseOp) TriggerDependenceAnalysis() {
	r.RegisterPredicateDependence()
	r.parent.AnalyzeRegion(r.self, 0, &r.requirement)
}

func (r *ReleaseOp) Speculate(ctx context.Context) (bool, bool) {
	return r.env.Mapper.Speculate(ctx, r.speculationRequest())
}

func (r *ReleaseOp) ResolveTrue() { r.ContinueMapping() }

func (r *ReleaseOp) ResolveFalse() {
	r.CompleteMapping()
	r.CompleteExecution()
}

func (r *ReleaseOp) TriggerExecution(ctx context.Context) Outcome {
	r.CompleteMapping()
	return r.LaunchWhenReady(func() { r.CompleteExecution() })
}

func (r *ReleaseOp) Deactivate() {
	r.requirement = region.Requirement{}
	r.deactivateSpeculative()
}
