package ops_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqyuan/legion/model/domain"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/runtime/ops"
	"github.com/cqyuan/legion/runtime/task"
)

func epochTask(ctx *task.Context, req region.Requirement, point int64,
	value interface{}) *ops.TaskOp {
	op := ctx.Pools().GetTaskOp()
	_, err := op.InitializeTask(ctx, ops.TaskLauncher{
		Requirements: []region.Requirement{req},
		Point:        domain.NewPoint1D(point),
		Runner: func(context.Context) (interface{}, error) {
			return value, nil
		},
	})
	if err != nil {
		panic(err)
	}
	return op
}

// TestMustEpochSingleton checks an epoch of one task succeeds exactly
// as the task would alone, with no constraints.
func TestMustEpochSingleton(t *testing.T) {
	ctx, pools := newTestContext(nil)

	t1 := epochTask(ctx, writeReq(regionA()), 0, 42)
	epoch := pools.GetMustEpochOp()
	result, err := epoch.InitializeMustEpoch(ctx, ops.MustEpochLauncher{
		IndividualTasks: []ops.EpochTask{t1},
	})
	require.NoError(t, err)
	ctx.Submit(epoch)
	ctx.WaitAnalysisIdle()

	require.NoError(t, epoch.Failed())
	assert.Empty(t, epoch.Dependences())
	assert.True(t, epoch.CompletionEvent().Triggered())

	fut, ok := result.Get(domain.NewPoint1D(0))
	require.True(t, ok)
	value, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

// TestMustEpochInfeasible runs two exclusive writers of one region:
// submission succeeds, Phase B reports infeasibility, and every member
// future resolves with the error payload.
func TestMustEpochInfeasible(t *testing.T) {
	ctx, pools := newTestContext(nil)

	t1 := epochTask(ctx, writeReq(regionA()), 0, "a")
	t2 := epochTask(ctx, writeReq(regionA()), 1, "b")
	epoch := pools.GetMustEpochOp()
	result, err := epoch.InitializeMustEpoch(ctx, ops.MustEpochLauncher{
		IndividualTasks: []ops.EpochTask{t1, t2},
	})
	require.NoError(t, err)
	ctx.Submit(epoch)
	ctx.WaitAnalysisIdle()

	assert.ErrorIs(t, epoch.Failed(), ops.ErrMustEpochInfeasible)
	require.Equal(t, 2, result.Len())
	for _, p := range []domain.Point{domain.NewPoint1D(0), domain.NewPoint1D(1)} {
		fut, ok := result.Get(p)
		require.True(t, ok)
		value, err := fut.Get(context.Background())
		require.NoError(t, err)
		assert.ErrorIs(t, value.(error), ops.ErrMustEpochInfeasible)
	}
}

// TestMustEpochAntiDependenceConstraint checks a reader/writer pair is
// schedulable: the anti dependence is recorded on the epoch instead of
// failing it, the epoch completes, and both results arrive.
func TestMustEpochAntiDependenceConstraint(t *testing.T) {
	ctx, pools := newTestContext(nil)

	reader := epochTask(ctx, readReq(regionA()), 0, "read")
	writer := epochTask(ctx, func() region.Requirement {
		req := writeReq(regionA())
		req.Privilege = region.WriteDiscard
		return req
	}(), 1, "write")

	epoch := pools.GetMustEpochOp()
	result, err := epoch.InitializeMustEpoch(ctx, ops.MustEpochLauncher{
		IndividualTasks: []ops.EpochTask{reader, writer},
	})
	require.NoError(t, err)
	ctx.Submit(epoch)
	ctx.WaitAnalysisIdle()

	require.NoError(t, epoch.Failed())
	records := epoch.Dependences()
	require.Len(t, records, 1)
	assert.Equal(t, region.AntiDependence, records[0].Dtype)

	assert.True(t, epoch.CompletionEvent().Triggered())
	require.Equal(t, 2, result.Len())
	fut, _ := result.Get(domain.NewPoint1D(1))
	value, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "write", value)
}
