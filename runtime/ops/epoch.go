package ops

import (
	"context"
	"sync"

	"github.com/cqyuan/legion/model/domain"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/mapper"
)

// EpochTask is the boundary the epoch sub-scheduler consumes from the
// external task layer: an operation that can report its requirements,
// run its own dependence analysis, and be launched.
type EpochTask interface {
	Op
	EpochRequirements() []region.Requirement
	EpochPoint() domain.Point
	EpochFuture() event.Future
	DistributeEpochTask(ctx context.Context) error
}

// IndexEpochTask is an index-space task that expands into slices before
// distribution.
type IndexEpochTask interface {
	EpochTask
	Slices() []SliceEpochTask
}

// SliceEpochTask is one distributable slice holding single-task leaves.
type SliceEpochTask interface {
	Leaves() []EpochTask
}

// MustEpochLauncher names the tasks the application requires to execute
// simultaneously.
type MustEpochLauncher struct {
	IndividualTasks []EpochTask
	IndexTasks      []IndexEpochTask
}

// DependenceRecord is one edge discovered between two members of the
// epoch during Phase B.
type DependenceRecord struct {
	Op1Idx  int
	Op2Idx  int
	Reg1Idx int
	Reg2Idx int
	Dtype   region.DependenceType
}

// MustEpochOp schedules a group of tasks that must run concurrently.
// Phase B rejects epochs whose members carry true dependences; anti
// dependences become placement constraints for the mapper.
type MustEpochOp struct {
	Operation

	epochMu        sync.Mutex
	indivTasks     []EpochTask
	indexTasks     []IndexEpochTask
	sliceTasks     []SliceEpochTask
	singleTasks    []EpochTask
	subopIndex     map[Op]int
	dependences    []DependenceRecord
	constraints    []mapper.Constraint
	resultMap      *event.FutureMap
	remainingSubopCompletes int
	remainingSubopCommits   int
	subopsReady    sync.WaitGroup
	triggeringComplete bool
	failed         error
	pendingCommit  bool
	commitHeld     bool
}

// InitializeMustEpoch starts the epoch and returns the future map its
// member results aggregate into.
func (m *MustEpochOp) InitializeMustEpoch(parent ParentContext, launcher MustEpochLauncher) (*event.FutureMap, error) {
	for _, t := range launcher.IndividualTasks {
		for _, req := range t.EpochRequirements() {
			r := req
			if err := parent.CheckPrivilege(&r); err != nil {
				return nil, err
			}
		}
	}
	m.Initialize(parent, true, nil, 0)
	m.epochMu.Lock()
	m.indivTasks = launcher.IndividualTasks
	m.indexTasks = launcher.IndexTasks
	m.sliceTasks = nil
	m.singleTasks = nil
	m.subopIndex = map[Op]int{}
	m.dependences = nil
	m.constraints = nil
	m.resultMap = event.NewFutureMap()
	m.remainingSubopCompletes = 0
	m.remainingSubopCommits = 0
	m.triggeringComplete = false
	m.failed = nil
	m.pendingCommit = false
	m.commitHeld = false
	m.epochMu.Unlock()
	return m.resultMap, nil
}

// ResultMap returns the epoch's aggregated future map.
func (m *MustEpochOp) ResultMap() *event.FutureMap {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	return m.resultMap
}

// Dependences returns the recorded member-to-member edges.
func (m *MustEpochOp) Dependences() []DependenceRecord {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	out := make([]DependenceRecord, len(m.dependences))
	copy(out, m.dependences)
	return out
}

// Failed returns the epoch failure, if any.
func (m *MustEpochOp) Failed() error {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	return m.failed
}

// registerSubop wires the accounting for one member operation.
func (m *MustEpochOp) registerSubop(op Op, index int) {
	m.epochMu.Lock()
	m.subopIndex[op] = index
	m.remainingSubopCompletes++
	m.remainingSubopCommits++
	m.epochMu.Unlock()
	m.subopsReady.Add(1)
}

// notifySubopReady is called from a member's mapping trigger once all
// of its dependences outside the epoch are satisfied.
func (m *MustEpochOp) notifySubopReady(op Op) {
	m.subopsReady.Done()
}

// recordDependence captures an edge between two members. True
// dependences make the epoch infeasible; anti dependences resolved by
// placement become mapping constraints.
func (m *MustEpochOp) recordDependence(target Op, targetGen GenerationID,
	source Op, sourceGen GenerationID, targetIdx, sourceIdx int, dtype region.DependenceType) {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	i1, ok1 := m.subopIndex[target]
	i2, ok2 := m.subopIndex[source]
	if !ok1 || !ok2 {
		return
	}
	m.dependences = append(m.dependences, DependenceRecord{
		Op1Idx:  i1,
		Op2Idx:  i2,
		Reg1Idx: targetIdx,
		Reg2Idx: sourceIdx,
		Dtype:   dtype,
	})
	if dtype == region.AntiDependence || dtype == region.SimultaneousDependence || dtype == region.AtomicDependence {
		m.constraints = append(m.constraints, mapper.Constraint{
			Task1: i1, Task2: i2, Req1: targetIdx, Req2: sourceIdx, Dtype: dtype,
		})
	}
}

func (m *MustEpochOp) TriggerDependenceAnalysis() {
	tasks := m.memberTasks()
	for i, t := range tasks {
		t.Base().SetMustEpoch(m, i)
	}
	// Phase B of every member runs inside the epoch's Phase B, in
	// program order.
	for _, t := range tasks {
		RunDependenceAnalysis(t)
	}
	// Any true dependence among members forces ordering and defeats
	// simultaneous execution.
	m.epochMu.Lock()
	var infeasible bool
	for _, rec := range m.dependences {
		if rec.Dtype == region.TrueDependence {
			infeasible = true
			break
		}
	}
	m.epochMu.Unlock()
	if infeasible {
		m.fail(ErrMustEpochInfeasible)
	}
}

// memberTasks flattens individual and index tasks in registration
// order.
func (m *MustEpochOp) memberTasks() []EpochTask {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	out := make([]EpochTask, 0, len(m.indivTasks)+len(m.indexTasks))
	out = append(out, m.indivTasks...)
	for _, it := range m.indexTasks {
		out = append(out, it)
	}
	return out
}

// fail resolves every member future with the error payload and pushes
// the epoch through completion.
func (m *MustEpochOp) fail(err error) {
	m.epochMu.Lock()
	if m.failed != nil {
		m.epochMu.Unlock()
		return
	}
	m.failed = err
	tasks := make([]EpochTask, 0, len(m.indivTasks)+len(m.indexTasks))
	tasks = append(tasks, m.indivTasks...)
	for _, it := range m.indexTasks {
		tasks = append(tasks, it)
	}
	result := m.resultMap
	m.epochMu.Unlock()

	if m.env.Log != nil {
		m.env.Log.WithError(err).WithField("uid", uint64(m.UniqueOpID())).
			Error("must epoch failed")
	}
	for _, t := range tasks {
		if f := t.EpochFuture(); f != nil {
			f.Set(err)
			result.Set(t.EpochPoint(), f)
		}
		// Members never run; quash them so their consumers unblock.
		t.Base().QuashOperation(t.Base().Generation(), false)
	}
	m.CompleteMapping()
	m.CompleteExecution()
}

func (m *MustEpochOp) TriggerExecution(ctx context.Context) Outcome {
	m.epochMu.Lock()
	failed := m.failed
	m.epochMu.Unlock()
	if failed != nil {
		// Failure already drove completion during Phase B.
		return Poisoned
	}
	m.env.enqueue(func() { m.runEpoch(ctx) })
	return Deferred
}

// runEpoch drives triggering, mapping, distribution and completion
// aggregation for the whole group.
func (m *MustEpochOp) runEpoch(ctx context.Context) {
	// Wait until every member has cleared its external dependences.
	m.subopsReady.Wait()

	// Expand index tasks into slices and collect the single tasks.
	m.epochMu.Lock()
	singles := append([]EpochTask{}, m.indivTasks...)
	for _, it := range m.indexTasks {
		for _, slice := range it.Slices() {
			m.sliceTasks = append(m.sliceTasks, slice)
			singles = append(singles, slice.Leaves()...)
		}
	}
	m.singleTasks = singles
	constraints := append([]mapper.Constraint{}, m.constraints...)
	m.triggeringComplete = true
	m.epochMu.Unlock()

	// Map the whole group in a single mapper call.
	slots := make([]mapper.TaskSlot, len(singles))
	for i, t := range singles {
		slots[i] = mapper.TaskSlot{Index: i, Requirements: t.EpochRequirements()}
	}
	placements, err := m.env.Mapper.MapMustEpoch(ctx, slots, constraints)
	if err != nil {
		m.fail(ErrMustEpochInfeasible)
		return
	}
	if !constraintsSatisfied(placements, constraints) {
		m.fail(ErrMustEpochInfeasible)
		return
	}

	// Distribute the members in parallel; any failure fails the epoch.
	triggerer := &mustEpochTriggerer{owner: m}
	if !triggerer.triggerTasks(ctx, singles) {
		m.fail(ErrMustEpochInfeasible)
		return
	}
	m.CompleteMapping()
	// Completion of the epoch itself waits for every member through
	// notifySubopComplete.
}

// constraintsSatisfied verifies the mapper's placement respects every
// recorded constraint.
func constraintsSatisfied(placements []mapper.Placement, constraints []mapper.Constraint) bool {
	for _, c := range constraints {
		if c.Task1 >= len(placements) || c.Task2 >= len(placements) {
			return false
		}
		p1 := placements[c.Task1]
		p2 := placements[c.Task2]
		if c.Req1 >= len(p1.Instances) || c.Req2 >= len(p2.Instances) {
			return false
		}
		if p1.Instances[c.Req1] != p2.Instances[c.Req2] {
			return false
		}
	}
	return true
}

// notifySubopComplete aggregates member completions. Each member's
// future enters the future map as that member completes, before it can
// commit and recycle its slot; the last one completes the epoch.
func (m *MustEpochOp) notifySubopComplete(op Op) {
	m.epochMu.Lock()
	m.remainingSubopCompletes--
	done := m.remainingSubopCompletes == 0 && m.failed == nil
	if t, ok := op.(EpochTask); ok && m.failed == nil && m.resultMap != nil {
		if f := t.EpochFuture(); f != nil {
			m.resultMap.Set(t.EpochPoint(), f)
		}
	}
	m.epochMu.Unlock()
	if !done {
		return
	}
	m.CompleteExecution()
}

// notifySubopCommit aggregates member commits; the epoch's own commit
// is held until the last member has committed.
func (m *MustEpochOp) notifySubopCommit(op Op) {
	m.epochMu.Lock()
	m.remainingSubopCommits--
	release := m.remainingSubopCommits == 0 && m.pendingCommit
	m.epochMu.Unlock()
	if release {
		m.CommitOperation()
	}
}

func (m *MustEpochOp) TriggerCommit() {
	m.epochMu.Lock()
	hold := m.remainingSubopCommits > 0 && m.failed == nil
	if hold {
		m.pendingCommit = true
	}
	m.epochMu.Unlock()
	if !hold {
		m.CommitOperation()
	}
}

func (m *MustEpochOp) Deactivate() {
	m.epochMu.Lock()
	m.indivTasks = nil
	m.indexTasks = nil
	m.sliceTasks = nil
	m.singleTasks = nil
	m.subopIndex = nil
	// Dependence records, constraints and the failure survive until
	// the next initialize so late observers read a committed epoch's
	// outcome.
	m.epochMu.Unlock()
	m.deactivateOperation()
}

// mustEpochTriggerer fans member launches out in parallel and collects
// failures.
type mustEpochTriggerer struct {
	owner *MustEpochOp

	mu     sync.Mutex
	failed []EpochTask
}

func (t *mustEpochTriggerer) triggerTasks(ctx context.Context, tasks []EpochTask) bool {
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task EpochTask) {
			defer wg.Done()
			if err := task.DistributeEpochTask(ctx); err != nil {
				t.mu.Lock()
				t.failed = append(t.failed, task)
				t.mu.Unlock()
			}
		}(task)
	}
	wg.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failed) == 0
}
