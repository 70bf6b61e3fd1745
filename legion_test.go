package legion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqyuan/legion/model/domain"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/runtime/ops"
)

func testRegion(tree uint32) region.LogicalRegion {
	return region.LogicalRegion{
		Index: region.IndexSpace{ID: uint64(tree)},
		Field: region.FieldSpace{ID: 1},
		Tree:  tree,
	}
}

func testRequirement(r region.LogicalRegion, p region.Privilege) region.Requirement {
	return region.Requirement{
		Region:    r,
		Parent:    r,
		Privilege: p,
		Coherence: region.Exclusive,
		Fields:    []region.FieldID{0},
	}
}

func waitEvent(t *testing.T, ev interface {
	Wait(ctx context.Context) error
}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ev.Wait(ctx))
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("processor:\n  workers: 2\ncontext:\n  maxOutstandingFrames: 8\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Processor.WorkerCount)
	assert.Equal(t, 8, cfg.Context.MaxOutstandingFrames)

	_, err = ParseConfig([]byte("processor: {workers: -1}"))
	assert.Error(t, err)
}

func TestInlineMappingEndToEnd(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()

	physical, err := rt.IssueInlineMapping(ctx, ops.InlineLauncher{
		Requirement: testRequirement(testRegion(1), region.ReadWrite),
	})
	require.NoError(t, err)
	waitEvent(t, physical.Ready)
	assert.NotZero(t, physical.Instance.Instance)
}

func TestCopyAfterFillOrdering(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()
	ra, rb := testRegion(1), testRegion(2)

	require.NoError(t, rt.IssueFill(ctx, ops.FillLauncher{
		Requirement: testRequirement(ra, region.ReadWrite),
		Value:       []byte{1},
	}))
	require.NoError(t, rt.IssueCopy(ctx, ops.CopyLauncher{
		Sources:      []region.Requirement{testRequirement(ra, region.ReadOnly)},
		Destinations: []region.Requirement{testRequirement(rb, region.ReadWrite)},
	}))
	fenceDone := rt.IssueFence(ctx, ops.ExecutionFence)
	waitEvent(t, fenceDone)
}

func TestAttachDetachLifecycle(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()
	ra := testRegion(1)

	physical, err := rt.IssueAttach(ctx, ops.AttachLauncher{
		Requirement: testRequirement(ra, region.ReadWrite),
		FileURL:     "mem://localhost/legion/data.bin",
		SizeBytes:   256,
		Mode:        ops.FileCreate,
	})
	require.NoError(t, err)
	waitEvent(t, physical.Ready)
	assert.Equal(t, "file", physical.Instance.Memory)

	rt.IssueDetach(ctx, physical, 1)
	done := rt.IssueFence(ctx, ops.ExecutionFence)
	waitEvent(t, done)
}

func TestPendingPartitionThunks(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()

	ready := rt.IssuePendingPartition(ctx, ops.EqualPartitionThunk{
		Pid:         region.IndexPartition{ID: 11},
		Granularity: 4,
	})
	waitEvent(t, ready)

	union := rt.IssuePendingPartition(ctx, ops.UnionPartitionThunk{
		Pid:     region.IndexPartition{ID: 12},
		Handle1: region.IndexPartition{ID: 11},
		Handle2: region.IndexPartition{ID: 11},
	})
	waitEvent(t, union)
}

func TestPendingPartitionFailurePoisons(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()

	// Zero granularity makes the forest fail the computation.
	ready := rt.IssuePendingPartition(ctx, ops.EqualPartitionThunk{
		Pid:         region.IndexPartition{ID: 13},
		Granularity: 0,
	})
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, ready.Wait(waitCtx))
}

func TestDependentPartitionByField(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()
	ra := testRegion(1)

	ready, err := rt.IssuePartitionByField(ctx, region.IndexPartition{ID: 21},
		ra, ra, domain.NewDomain1D(0, 3), 0)
	require.NoError(t, err)
	waitEvent(t, ready)
}

func TestDynamicCollective(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()

	handle := svc.Env().Events.NewFuture()
	result := rt.IssueDynamicCollective(ctx, ops.DynamicCollective{Handle: handle})
	handle.Set(int64(99))

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := result.Get(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(99), value)
}

func TestLaunchTask(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()

	future, err := rt.LaunchTask(ctx, ops.TaskLauncher{
		Requirements: []region.Requirement{testRequirement(testRegion(1), region.ReadWrite)},
		Runner: func(context.Context) (interface{}, error) {
			return "done", nil
		},
	})
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := future.Get(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}

func TestMustEpochEndToEnd(t *testing.T) {
	svc := New()
	defer svc.Shutdown()
	rt := svc.Runtime()
	ctx := svc.NewContext()
	ra := testRegion(1)

	t1, _, err := rt.NewEpochTask(ctx, ops.TaskLauncher{
		Requirements: []region.Requirement{testRequirement(ra, region.ReadOnly)},
		Point:        domain.NewPoint1D(0),
		Runner:       func(context.Context) (interface{}, error) { return 1, nil },
	})
	require.NoError(t, err)
	req2 := testRequirement(ra, region.WriteDiscard)
	t2, _, err := rt.NewEpochTask(ctx, ops.TaskLauncher{
		Requirements: []region.Requirement{req2},
		Point:        domain.NewPoint1D(1),
		Runner:       func(context.Context) (interface{}, error) { return 2, nil },
	})
	require.NoError(t, err)

	result, err := rt.IssueMustEpoch(ctx, ops.MustEpochLauncher{
		IndividualTasks: []ops.EpochTask{t1, t2},
	})
	require.NoError(t, err)

	done := rt.IssueFence(ctx, ops.ExecutionFence)
	waitEvent(t, done)

	require.Equal(t, 2, result.Len())
	fut, ok := result.Get(domain.NewPoint1D(1))
	require.True(t, ok)
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := fut.Get(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
}
