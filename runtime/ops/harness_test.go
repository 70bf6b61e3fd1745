package ops_test

import (
	"context"
	"sync"

	"github.com/cqyuan/legion/internal/idgen"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/runtime/ops"
	"github.com/cqyuan/legion/runtime/task"
	"github.com/cqyuan/legion/service/event"
	evmemory "github.com/cqyuan/legion/service/event/memory"
	"github.com/cqyuan/legion/service/filemem"
	"github.com/cqyuan/legion/service/forest"
	"github.com/cqyuan/legion/service/mapper"
)

// newTestEnv builds a deterministic environment: deferred triggers and
// ready operations run inline on the calling goroutine.
func newTestEnv(m mapper.Mapper) *ops.Env {
	events := evmemory.New()
	if m == nil {
		m = mapper.NewDefault()
	}
	env := &ops.Env{
		Events: events,
		Mapper: m,
		Forest: forest.NewMemory(events),
		Files:  filemem.New(nil),
		IDs:    idgen.NewAllocator(),
		Defer:  func(fn func()) { fn() },
	}
	env.Ready = func(op ops.Op) {
		op.TriggerExecution(context.Background())
	}
	return env
}

func newTestContext(m mapper.Mapper) (*task.Context, *ops.Pools) {
	env := newTestEnv(m)
	pools := ops.NewPools(env)
	ctx := task.NewContext(env, pools, task.DefaultConfig(), nil)
	return ctx, pools
}

func regionA() region.LogicalRegion {
	return region.LogicalRegion{Index: region.IndexSpace{ID: 1}, Field: region.FieldSpace{ID: 1}, Tree: 1}
}

func regionB() region.LogicalRegion {
	return region.LogicalRegion{Index: region.IndexSpace{ID: 2}, Field: region.FieldSpace{ID: 1}, Tree: 2}
}

func writeReq(r region.LogicalRegion) region.Requirement {
	return region.Requirement{
		Region:    r,
		Parent:    r,
		Privilege: region.ReadWrite,
		Coherence: region.Exclusive,
		Fields:    []region.FieldID{0},
	}
}

func readReq(r region.LogicalRegion) region.Requirement {
	req := writeReq(r)
	req.Privilege = region.ReadOnly
	return req
}

// completionRecorder captures completion order across operations.
type completionRecorder struct {
	mu    sync.Mutex
	order []string
}

func (c *completionRecorder) watch(name string, ev event.Event) {
	ev.Subscribe(func(bool) {
		c.mu.Lock()
		c.order = append(c.order, name)
		c.mu.Unlock()
	})
}

func (c *completionRecorder) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// gatedFill submits a fill on req whose execution waits for gate.
func gatedFill(ctx *task.Context, req region.Requirement, gate event.Future) *ops.FillOp {
	op := ctx.Pools().GetFillOp()
	if err := op.InitializeFill(ctx, ops.FillLauncher{Requirement: req, Future: gate}); err != nil {
		panic(err)
	}
	ctx.Submit(op)
	return op
}

// readerTask submits a task reading req.
func readerTask(ctx *task.Context, req region.Requirement) (*ops.TaskOp, event.Future) {
	op := ctx.Pools().GetTaskOp()
	future, err := op.InitializeTask(ctx, ops.TaskLauncher{Requirements: []region.Requirement{req}})
	if err != nil {
		panic(err)
	}
	ctx.Submit(op)
	return op, future
}
