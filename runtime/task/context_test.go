package task_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqyuan/legion/internal/idgen"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/runtime/ops"
	"github.com/cqyuan/legion/runtime/task"
	evmemory "github.com/cqyuan/legion/service/event/memory"
	"github.com/cqyuan/legion/service/filemem"
	"github.com/cqyuan/legion/service/forest"
	"github.com/cqyuan/legion/service/mapper"
)

func newEnv() *ops.Env {
	events := evmemory.New()
	env := &ops.Env{
		Events: events,
		Mapper: mapper.NewDefault(),
		Forest: forest.NewMemory(events),
		Files:  filemem.New(nil),
		IDs:    idgen.NewAllocator(),
		Defer:  func(fn func()) { fn() },
	}
	env.Ready = func(op ops.Op) { op.TriggerExecution(context.Background()) }
	return env
}

func regionOf(tree uint32) region.LogicalRegion {
	return region.LogicalRegion{
		Index: region.IndexSpace{ID: uint64(tree)},
		Field: region.FieldSpace{ID: 1},
		Tree:  tree,
	}
}

func requirement(r region.LogicalRegion, p region.Privilege) region.Requirement {
	return region.Requirement{
		Region:    r,
		Parent:    r,
		Privilege: p,
		Coherence: region.Exclusive,
		Fields:    []region.FieldID{0},
	}
}

// TestPrivilegeCheck rejects a requirement the context does not hold.
func TestPrivilegeCheck(t *testing.T) {
	env := newEnv()
	pools := ops.NewPools(env)
	ra := regionOf(1)
	ctx := task.NewContext(env, pools, task.DefaultConfig(), []region.Requirement{
		requirement(ra, region.ReadOnly),
	})

	op := pools.GetFillOp()
	err := op.InitializeFill(ctx, ops.FillLauncher{Requirement: requirement(ra, region.ReadWrite)})
	assert.ErrorIs(t, err, ops.ErrPrivilege)

	// A read is subsumed.
	m := pools.GetMapOp()
	_, err = m.InitializeMap(ctx, ops.InlineLauncher{Requirement: requirement(ra, region.ReadOnly)})
	assert.NoError(t, err)
	ctx.Submit(m)
	ctx.WaitAnalysisIdle()
}

// TestOutstandingAccounting tracks the live-operation window.
func TestOutstandingAccounting(t *testing.T) {
	env := newEnv()
	pools := ops.NewPools(env)
	ctx := task.NewContext(env, pools, task.DefaultConfig(), nil)

	gate := env.Events.NewFuture()
	op := pools.GetFillOp()
	require.NoError(t, op.InitializeFill(ctx, ops.FillLauncher{
		Requirement: requirement(regionOf(1), region.ReadWrite),
		Future:      gate,
	}))
	assert.Equal(t, 1, ctx.Outstanding())
	ctx.Submit(op)
	ctx.WaitAnalysisIdle()
	assert.Equal(t, 1, ctx.Outstanding())

	gate.Set(nil)
	assert.Equal(t, 0, ctx.Outstanding())
}

// TestFrameAccounting counts frames in and out of flight.
func TestFrameAccounting(t *testing.T) {
	env := newEnv()
	pools := ops.NewPools(env)
	cfg := task.DefaultConfig()
	cfg.MaxOutstandingFrames = 4
	ctx := task.NewContext(env, pools, cfg, nil)

	frame := pools.GetFrameOp()
	frame.InitializeFrame(ctx)
	assert.Equal(t, 1, ctx.Frames())
	ctx.Submit(frame)
	ctx.WaitAnalysisIdle()
	assert.Equal(t, 0, ctx.Frames())
	assert.True(t, frame.CompletionEvent().Triggered())
}

// TestInterCloseIssuedForReaderMerge checks the analyzer injects a
// close when a writer follows multiple pending readers.
func TestInterCloseIssuedForReaderMerge(t *testing.T) {
	env := newEnv()
	pools := ops.NewPools(env)
	ctx := task.NewContext(env, pools, task.DefaultConfig(), nil)
	ra := regionOf(1)

	gate := env.Events.NewFuture()
	writer0 := pools.GetFillOp()
	require.NoError(t, writer0.InitializeFill(ctx, ops.FillLauncher{
		Requirement: requirement(ra, region.ReadWrite),
		Future:      gate,
	}))
	ctx.Submit(writer0)

	for i := 0; i < 2; i++ {
		reader := pools.GetTaskOp()
		_, err := reader.InitializeTask(ctx, ops.TaskLauncher{
			Requirements: []region.Requirement{requirement(ra, region.ReadOnly)},
		})
		require.NoError(t, err)
		ctx.Submit(reader)
	}

	writer := pools.GetFillOp()
	require.NoError(t, writer.InitializeFill(ctx, ops.FillLauncher{
		Requirement: requirement(ra, region.ReadWrite),
	}))
	ctx.Submit(writer)
	ctx.WaitAnalysisIdle()

	var sawClose bool
	for _, entry := range ctx.WindowOps() {
		if entry.Op.Kind() == ops.InterCloseOpKind {
			sawClose = true
		}
	}
	assert.True(t, sawClose)

	gate.Set(nil)
	assert.True(t, writer.CompletionEvent().Triggered())
}

// TestFenceBecomesCurrent orders later submissions after the fence.
func TestFenceBecomesCurrent(t *testing.T) {
	env := newEnv()
	pools := ops.NewPools(env)
	ctx := task.NewContext(env, pools, task.DefaultConfig(), nil)

	gate := env.Events.NewFuture()
	first := pools.GetFillOp()
	require.NoError(t, first.InitializeFill(ctx, ops.FillLauncher{
		Requirement: requirement(regionOf(1), region.ReadWrite),
		Future:      gate,
	}))
	ctx.Submit(first)

	fence := pools.GetFenceOp()
	fence.InitializeFence(ctx, ops.ExecutionFence)
	ctx.Submit(fence)

	// Unrelated region, but fenced.
	later := pools.GetFillOp()
	require.NoError(t, later.InitializeFill(ctx, ops.FillLauncher{
		Requirement: requirement(regionOf(2), region.ReadWrite),
	}))
	ctx.Submit(later)
	ctx.WaitAnalysisIdle()

	assert.False(t, later.CompletionEvent().Triggered())
	gate.Set(nil)
	assert.True(t, later.CompletionEvent().Triggered())
}

// TestDeletionWaitsForUsers defers a region deletion until an earlier
// writer of the region finishes.
func TestDeletionWaitsForUsers(t *testing.T) {
	env := newEnv()
	pools := ops.NewPools(env)
	ctx := task.NewContext(env, pools, task.DefaultConfig(), nil)
	ra := regionOf(1)

	gate := env.Events.NewFuture()
	user := pools.GetFillOp()
	require.NoError(t, user.InitializeFill(ctx, ops.FillLauncher{
		Requirement: requirement(ra, region.ReadWrite),
		Future:      gate,
	}))
	ctx.Submit(user)

	del := pools.GetDeletionOp()
	del.InitializeLogicalRegionDeletion(ctx, ra)
	ctx.Submit(del)
	ctx.WaitAnalysisIdle()

	assert.False(t, del.CompletionEvent().Triggered())
	gate.Set(nil)
	assert.True(t, del.CompletionEvent().Triggered())
}
