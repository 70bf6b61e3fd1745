package ops_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqyuan/legion/runtime/ops"
	"github.com/cqyuan/legion/runtime/task"
	"github.com/cqyuan/legion/service/event"
)

// traceSequence submits the canonical traced sequence: a gated write of
// Ra, a read of Ra, and a gated write of Rb.
func traceSequence(ctx *task.Context, gate event.Future) (*ops.FillOp, *ops.TaskOp, *ops.FillOp) {
	o1 := gatedFill(ctx, writeReq(regionA()), gate)
	o2, _ := readerTask(ctx, readReq(regionA()))
	o3 := gatedFill(ctx, writeReq(regionB()), gate)
	return o1, o2, o3
}

// TestTraceCaptureRecordsEdges captures a sequence and checks the
// memoized dependence sets.
func TestTraceCaptureRecordsEdges(t *testing.T) {
	ctx, _ := newTestContext(nil)
	gate := ctx.Env().Events.NewFuture()

	require.NoError(t, ctx.BeginTrace(7))
	traceSequence(ctx, gate)
	require.NoError(t, ctx.EndTrace(7))
	ctx.WaitAnalysisIdle()

	tr := ctx.Trace(7)
	require.NotNil(t, tr)
	assert.True(t, tr.IsFixed())
	require.Equal(t, 3, tr.Len())

	deps := tr.Dependences()
	assert.Empty(t, deps[0])
	require.Len(t, deps[1], 1)
	assert.Equal(t, 0, deps[1][0][0])
	assert.Empty(t, deps[2])

	gate.Set(nil)
}

// TestTraceReplayBypassesAnalyzer replays the fixed trace and checks
// the memoized edges still order execution.
func TestTraceReplayBypassesAnalyzer(t *testing.T) {
	ctx, _ := newTestContext(nil)
	gate := ctx.Env().Events.NewFuture()

	require.NoError(t, ctx.BeginTrace(3))
	traceSequence(ctx, gate)
	require.NoError(t, ctx.EndTrace(3))
	ctx.WaitAnalysisIdle()
	gate.Set(nil)

	tr := ctx.Trace(3)
	require.True(t, tr.IsFixed())
	captured := tr.Dependences()

	// Replay with identical launchers.
	gate2 := ctx.Env().Events.NewFuture()
	rec := &completionRecorder{}
	require.NoError(t, ctx.BeginTrace(3))
	r1, r2, r3 := traceSequence(ctx, gate2)
	rec.watch("o1", r1.CompletionEvent())
	rec.watch("o2", r2.CompletionEvent())
	rec.watch("o3", r3.CompletionEvent())
	require.NoError(t, ctx.EndTrace(3))
	ctx.WaitAnalysisIdle()

	gate2.Set(nil)

	order := rec.snapshot()
	require.Len(t, order, 3)
	assert.Less(t, indexOf(order, "o1"), indexOf(order, "o2"))

	// Replay left the memoized sets untouched (record is a no-op on
	// fixed traces).
	assert.Equal(t, captured, tr.Dependences())
}

// TestTraceFixedRecordIsNoOp drives the record paths on a fixed trace.
func TestTraceFixedRecordIsNoOp(t *testing.T) {
	ctx, _ := newTestContext(nil)

	require.NoError(t, ctx.BeginTrace(9))
	o1 := gatedFill(ctx, writeReq(regionA()), nil)
	_ = o1
	require.NoError(t, ctx.EndTrace(9))
	ctx.WaitAnalysisIdle()

	tr := ctx.Trace(9)
	require.True(t, tr.IsFixed())
	before := tr.Dependences()

	// Another execution with extra operations must not grow the sets.
	require.NoError(t, ctx.BeginTrace(9))
	gatedFill(ctx, writeReq(regionA()), nil)
	require.NoError(t, ctx.EndTrace(9))
	ctx.WaitAnalysisIdle()

	assert.Equal(t, before, tr.Dependences())
}

// TestBeginTraceTwiceFails checks nesting protection.
func TestBeginTraceTwiceFails(t *testing.T) {
	ctx, _ := newTestContext(nil)
	require.NoError(t, ctx.BeginTrace(1))
	assert.ErrorIs(t, ctx.BeginTrace(2), ops.ErrTraceMismatch)
	assert.ErrorIs(t, ctx.EndTrace(2), ops.ErrTraceMismatch)
	require.NoError(t, ctx.EndTrace(1))
	ctx.WaitAnalysisIdle()
}

func indexOf(values []string, v string) int {
	for i, value := range values {
		if value == v {
			return i
		}
	}
	return -1
}
