package ops

import (
	"context"

	"github.com/cqyuan/legion/model/domain"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/mapper"
)

// TaskLauncher describes a single task handed across the task-layer
// boundary: the core only needs its requirements, its point, and a
// runner to invoke.
type TaskLauncher struct {
	Requirements []region.Requirement                   `json:"requirements" yaml:"requirements"`
	Point        domain.Point                           `json:"point" yaml:"point"`
	Runner       func(ctx context.Context) (interface{}, error) `json:"-" yaml:"-"`
}

// TaskOp is the boundary node for externally executed tasks. The core
// orchestrates its lifecycle; the runner is the external collaborator.
type TaskOp struct {
	Operation
	requirements []region.Requirement
	point        domain.Point
	future       event.Future
	runner       func(ctx context.Context) (interface{}, error)
}

// InitializeTask validates the launcher and returns the task's result
// future.
func (t *TaskOp) InitializeTask(parent ParentContext, launcher TaskLauncher) (event.Future, error) {
	for i := range launcher.Requirements {
		if err := parent.CheckPrivilege(&launcher.Requirements[i]); err != nil {
			return nil, err
		}
	}
	// A task's own requirements may not alias each other.
	for i := range launcher.Requirements {
		for j := i + 1; j < len(launcher.Requirements); j++ {
			a, b := &launcher.Requirements[i], &launcher.Requirements[j]
			if region.Interferes(a.Region, b.Region) && a.Mask().Overlaps(b.Mask()) &&
				(a.Privilege.IsWrite() || b.Privilege.IsWrite()) {
				t.ReportAliasedRequirements(i, j)
				return nil, ErrAliasedRequirements
			}
		}
	}
	t.Initialize(parent, true, nil, len(launcher.Requirements))
	t.requirements = launcher.Requirements
	t.point = launcher.Point
	t.runner = launcher.Runner
	t.future = t.env.Events.NewFuture()
	return t.future, nil
}

// Requirements returns the task's region requirements.
func (t *TaskOp) Requirements() []region.Requirement { return t.requirements }

func (t *TaskOp) TriggerDependenceAnalysis() {
	for i := range t.requirements {
		t.parent.AnalyzeRegion(t.self, i, &t.requirements[i])
	}
}

func (t *TaskOp) TriggerExecution(ctx context.Context) Outcome {
	_, err := t.env.Mapper.MapTask(ctx, &mapper.Request{
		OpID:         uint64(t.UniqueOpID()),
		Kind:         t.kind.String(),
		Requirements: t.requirements,
	})
	if err != nil {
		t.Poison()
		t.CompleteMapping()
		t.CompleteExecution()
		return Poisoned
	}
	t.CompleteMapping()
	return t.LaunchWhenReady(func() { t.run(ctx) })
}

// run invokes the external runner and publishes the result.
func (t *TaskOp) run(ctx context.Context) {
	var value interface{}
	var err error
	if t.runner != nil {
		value, err = t.runner(ctx)
	}
	if err != nil {
		t.future.SetPoisoned()
		t.Poison()
		t.CompleteExecution()
		return
	}
	t.future.Set(value)
	t.CompleteExecution()
}

// EpochRequirements exposes the requirements to the epoch scheduler.
func (t *TaskOp) EpochRequirements() []region.Requirement { return t.requirements }

// EpochPoint returns the task's point in the epoch's domain.
func (t *TaskOp) EpochPoint() domain.Point { return t.point }

// EpochFuture returns the task's result future.
func (t *TaskOp) EpochFuture() event.Future { return t.future }

// DistributeEpochTask launches the task on behalf of its epoch.
func (t *TaskOp) DistributeEpochTask(ctx context.Context) error {
	t.CompleteMapping()
	t.run(ctx)
	return nil
}

func (t *TaskOp) Deactivate() {
	t.requirements = nil
	t.future = nil
	t.runner = nil
	t.deactivateOperation()
}

var _ EpochTask = (*TaskOp)(nil)
