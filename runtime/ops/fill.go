package ops

import (
	"context"

	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/event"
)

// FillLauncher describes initializing fields of a region to a value,
// given either inline or through a future.
type FillLauncher struct {
	Requirement region.Requirement `json:"requirement" yaml:"requirement"`
	Value       []byte             `json:"value,omitempty" yaml:"value,omitempty"`
	Future      event.Future       `json:"-" yaml:"-"`
	Predicate   Predicate          `json:"-" yaml:"-"`
}

// FillOp initializes fields of a logical region to a value.
type FillOp struct {
	SpeculativeOp
	requirement region.Requirement
	value       []byte
	future      event.Future
}

// InitializeFill validates and starts the fill.
func (f *FillOp) InitializeFill(parent ParentContext, launcher FillLauncher) error {
	if err := parent.CheckPrivilege(&launcher.Requirement); err != nil {
		return err
	}
	f.InitializeSpeculation(parent, true, nil, 1, launcher.Predicate)
	f.requirement = launcher.Requirement
	f.requirement.Privilege = region.WriteDiscard
	f.value = launcher.Value
	f.future = launcher.Future
	return nil
}

func (f *FillOp) TriggerDependenceAnalysis() {
	f.RegisterPredicateDependence()
	f.parent.AnalyzeRegion(f.self, 0, &f.requirement)
}

func (f *FillOp) Speculate(ctx context.Context) (bool, bool) {
	return f.env.Mapper.Speculate(ctx, f.speculationRequest())
}

func (f *FillOp) ResolveTrue() {
	f.ContinueMapping()
}

func (f *FillOp) ResolveFalse() {
	f.CompleteMapping()
	f.CompleteExecution()
}

func (f *FillOp) TriggerExecution(ctx context.Context) Outcome {
	f.CompleteMapping()
	if f.future != nil {
		// The fill value arrives through a future; wait for it along
		// with the producers.
		f.AddExecutionPrecondition(f.future)
	}
	return f.LaunchWhenReady(func() { f.CompleteExecution() })
}

func (f *FillOp) Deactivate() {
	f.requirement = region.Requirement{}
	f.value = nil
	f.future = nil
	f.deactivateSpeculative()
}
