package ops_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/runtime/ops"
	"github.com/cqyuan/legion/runtime/task"
	"github.com/cqyuan/legion/service/event"
	"github.com/cqyuan/legion/service/mapper"
)

// speculatingMapper guesses true for every unresolved predicate.
type speculatingMapper struct {
	*mapper.Default
	mu         sync.Mutex
	speculated int
}

func newSpeculatingMapper() *speculatingMapper {
	return &speculatingMapper{Default: mapper.NewDefault()}
}

func (m *speculatingMapper) Speculate(context.Context, *mapper.Request) (bool, bool) {
	m.mu.Lock()
	m.speculated++
	m.mu.Unlock()
	return true, true
}

func (m *speculatingMapper) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speculated
}

// futurePredicate builds a predicate over the future inside ctx.
func futurePredicate(ctx *task.Context, fut event.Future) ops.Predicate {
	fp := ctx.Pools().GetFuturePredOp()
	fp.InitializeFuturePred(ctx, fut)
	pred := ops.Predicate{Impl: fp, Gen: fp.Generation()}
	ctx.Submit(fp)
	return pred
}

// TestResolvedPredicateSkipsSpeculation checks an op under an already
// resolved predicate goes straight to resolve without consulting the
// mapper.
func TestResolvedPredicateSkipsSpeculation(t *testing.T) {
	m := newSpeculatingMapper()
	ctx, _ := newTestContext(m)

	fut := ctx.Env().Events.NewFuture()
	fut.Set(true)
	pred := futurePredicate(ctx, fut)
	ctx.WaitAnalysisIdle()

	op := ctx.Pools().GetFillOp()
	require.NoError(t, op.InitializeFill(ctx, ops.FillLauncher{
		Requirement: writeReq(regionA()),
		Predicate:   pred,
	}))
	ctx.Submit(op)
	ctx.WaitAnalysisIdle()

	assert.True(t, op.CompletionEvent().Triggered())
	assert.False(t, op.CompletionEvent().Poisoned())
	assert.Zero(t, m.count())
}

// TestFalsePredicateSkipsExecution checks the false branch completes
// with a clean sentinel and no execution.
func TestFalsePredicateSkipsExecution(t *testing.T) {
	ctx, _ := newTestContext(nil)

	fut := ctx.Env().Events.NewFuture()
	fut.Set(false)
	pred := futurePredicate(ctx, fut)
	ctx.WaitAnalysisIdle()

	op := ctx.Pools().GetFillOp()
	require.NoError(t, op.InitializeFill(ctx, ops.FillLauncher{
		Requirement: writeReq(regionA()),
		Predicate:   pred,
	}))
	ctx.Submit(op)
	ctx.WaitAnalysisIdle()

	assert.True(t, op.CompletionEvent().Triggered())
	assert.False(t, op.CompletionEvent().Poisoned())
}

// TestSpeculationMispredictQuashes runs the mispredict scenario: an op
// speculates true, executes, the predicate resolves false, and the op
// plus its consumer observe poison.
func TestSpeculationMispredictQuashes(t *testing.T) {
	m := newSpeculatingMapper()
	ctx, _ := newTestContext(m)

	fut := ctx.Env().Events.NewFuture()
	pred := futurePredicate(ctx, fut)

	copyOp := ctx.Pools().GetCopyOp()
	require.NoError(t, copyOp.InitializeCopy(ctx, ops.CopyLauncher{
		Sources:      []region.Requirement{readReq(regionA())},
		Destinations: []region.Requirement{writeReq(regionB())},
		Predicate:    pred,
	}))
	ctx.Submit(copyOp)

	consumer, _ := readerTask(ctx, readReq(regionB()))
	ctx.WaitAnalysisIdle()

	// The copy speculated and executed; nothing completed yet.
	require.Equal(t, 1, m.count())
	assert.False(t, copyOp.CompletionEvent().Triggered())

	fut.Set(false)

	assert.True(t, copyOp.CompletionEvent().Triggered())
	assert.True(t, copyOp.CompletionEvent().Poisoned())
	assert.True(t, consumer.CompletionEvent().Triggered())
	assert.True(t, consumer.CompletionEvent().Poisoned())
	assert.True(t, ctx.Restarted())
}

// TestAndPredicateShortCircuit resolves AND(false, pending) without
// touching the second input, notifying waiters exactly once.
func TestAndPredicateShortCircuit(t *testing.T) {
	ctx, _ := newTestContext(nil)
	events := ctx.Env().Events

	fut1 := events.NewFuture()
	fut2 := events.NewFuture()
	p1 := futurePredicate(ctx, fut1)
	p2 := futurePredicate(ctx, fut2)

	and := ctx.Pools().GetAndPredOp()
	and.InitializeAndPred(ctx, p1, p2)
	ctx.Submit(and)
	ctx.WaitAnalysisIdle()

	waiter := &countingWaiter{}
	if value, valid := and.RegisterWaiter(waiter, and.Generation()); valid {
		t.Fatalf("AND resolved before any input, value=%v", value)
	}

	fut1.Set(false)

	assert.Equal(t, 1, waiter.count())
	assert.False(t, waiter.last())
	assert.False(t, fut2.Triggered())

	// Once resolved, registration returns without suspension.
	value, valid := and.RegisterWaiter(&countingWaiter{}, and.Generation())
	assert.True(t, valid)
	assert.False(t, value)

	fut2.Set(true)
}

// TestOrPredicateShortCircuit resolves OR(true, pending) immediately.
func TestOrPredicateShortCircuit(t *testing.T) {
	ctx, _ := newTestContext(nil)
	events := ctx.Env().Events

	fut1 := events.NewFuture()
	fut2 := events.NewFuture()
	p1 := futurePredicate(ctx, fut1)
	p2 := futurePredicate(ctx, fut2)

	or := ctx.Pools().GetOrPredOp()
	or.InitializeOrPred(ctx, p1, p2)
	ctx.Submit(or)
	ctx.WaitAnalysisIdle()

	fut1.Set(true)

	value, valid := or.RegisterWaiter(&countingWaiter{}, or.Generation())
	assert.True(t, valid)
	assert.True(t, value)
	fut2.Set(false)
}

// TestNotPredicateFlips negates a future predicate.
func TestNotPredicateFlips(t *testing.T) {
	ctx, _ := newTestContext(nil)

	fut := ctx.Env().Events.NewFuture()
	p := futurePredicate(ctx, fut)

	not := ctx.Pools().GetNotPredOp()
	not.InitializeNotPred(ctx, p)
	ctx.Submit(not)
	ctx.WaitAnalysisIdle()

	fut.Set(false)

	value, valid := not.RegisterWaiter(&countingWaiter{}, not.Generation())
	assert.True(t, valid)
	assert.True(t, value)
}

type countingWaiter struct {
	mu        sync.Mutex
	notified  int
	lastValue bool
}

func (w *countingWaiter) NotifyPredicateValue(_ ops.GenerationID, value bool) {
	w.mu.Lock()
	w.notified++
	w.lastValue = value
	w.mu.Unlock()
}

func (w *countingWaiter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.notified
}

func (w *countingWaiter) last() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastValue
}
