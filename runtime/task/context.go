// Package task provides the parent-task view of the operation graph: a
// context that orders submissions, runs the dependence analysis in
// program order, tracks fences, frames and outstanding operations, and
// holds the logical region state the analyzer walks.
package task

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cqyuan/legion/internal/idgen"
	"github.com/cqyuan/legion/model/region"
	"github.com/cqyuan/legion/runtime/ops"
)

// Config bounds a context's in-flight work.
type Config struct {
	// MaxOutstandingFrames blocks new frames while this many are in
	// flight. Zero means unbounded.
	MaxOutstandingFrames int `json:"maxOutstandingFrames" yaml:"maxOutstandingFrames"`

	// AnalysisQueueDepth sizes the analysis submission queue.
	AnalysisQueueDepth int `json:"analysisQueueDepth" yaml:"analysisQueueDepth"`
}

// DefaultConfig returns the default context bounds.
func DefaultConfig() Config {
	return Config{
		MaxOutstandingFrames: 0,
		AnalysisQueueDepth:   256,
	}
}

// fenceRef remembers the context's current fence.
type fenceRef struct {
	op        ops.Op
	gen       ops.GenerationID
	execution bool
}

type windowEntry struct {
	op  ops.Op
	gen ops.GenerationID
}

// Context is one parent task's view of the graph. Submissions run
// Phase A on the caller and Phase B in program order on the context's
// analysis goroutine.
type Context struct {
	id     string
	env    *ops.Env
	pools  *ops.Pools
	config Config
	log    *logrus.Entry

	// Own privileges; submissions must be subsumed by one of these.
	privileges []region.Requirement

	mu           sync.Mutex
	window       []windowEntry
	outstanding  int
	currentFence *fenceRef
	currentTrace *ops.Trace
	traces       map[ops.TraceID]*ops.Trace
	users        map[region.LogicalRegion][]ops.LogicalUser
	restarted    bool

	frameMu sync.Mutex
	frameCv *sync.Cond
	frames  int

	analysisCh   chan ops.Op
	analysisOnce sync.Once
	analysisWg   sync.WaitGroup
	closed       bool

	// idle tracking so tests and fences can drain the pipeline
	idleMu   sync.Mutex
	idleCv   *sync.Cond
	inFlight int
}

// NewContext creates a context holding the given privileges.
func NewContext(env *ops.Env, pools *ops.Pools, config Config, privileges []region.Requirement) *Context {
	c := &Context{
		id:         idgen.New(),
		env:        env,
		pools:      pools,
		config:     config,
		privileges: privileges,
		traces:     map[ops.TraceID]*ops.Trace{},
		users:      map[region.LogicalRegion][]ops.LogicalUser{},
		analysisCh: make(chan ops.Op, max(config.AnalysisQueueDepth, 1)),
	}
	c.frameCv = sync.NewCond(&c.frameMu)
	c.idleCv = sync.NewCond(&c.idleMu)
	if env.Log != nil {
		c.log = env.Log.WithField("ctx", c.id[:8])
	} else {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

// ID returns the context's unique id.
func (c *Context) ID() string { return c.id }

// Env returns the collaborator bundle.
func (c *Context) Env() *ops.Env { return c.env }

// Pools returns the operation freelists.
func (c *Context) Pools() *ops.Pools { return c.pools }

// CheckPrivilege verifies the requirement is subsumed by one of the
// context's own privileges.
func (c *Context) CheckPrivilege(req *region.Requirement) error {
	if len(c.privileges) == 0 {
		// A root context holds all privileges.
		return nil
	}
	for i := range c.privileges {
		own := &c.privileges[i]
		if !region.Interferes(own.Region, req.Region) && own.Region != req.Parent {
			continue
		}
		if own.Privilege.Subsumes(req.Privilege) {
			return nil
		}
	}
	return ops.ErrPrivilege
}

// Submit hands an initialized operation to the analysis pipeline.
// Submissions from one goroutine keep program order.
func (c *Context) Submit(op ops.Op) {
	c.analysisOnce.Do(func() {
		c.analysisWg.Add(1)
		go c.analysisLoop()
	})
	c.idleMu.Lock()
	c.inFlight++
	c.idleMu.Unlock()
	c.analysisCh <- op
}

// analysisLoop runs Phase B for submitted ops in program order. The
// analyzer is the only goroutine touching the logical region state.
func (c *Context) analysisLoop() {
	defer c.analysisWg.Done()
	for op := range c.analysisCh {
		ops.RunDependenceAnalysis(op)
		c.idleMu.Lock()
		c.inFlight--
		if c.inFlight == 0 {
			c.idleCv.Broadcast()
		}
		c.idleMu.Unlock()
	}
}

// WaitAnalysisIdle blocks until every submitted op has finished its
// dependence analysis.
func (c *Context) WaitAnalysisIdle() {
	c.idleMu.Lock()
	for c.inFlight > 0 {
		c.idleCv.Wait()
	}
	c.idleMu.Unlock()
}

// Close shuts the analysis pipeline down.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.analysisOnce.Do(func() {
		c.analysisWg.Add(1)
		go c.analysisLoop()
	})
	close(c.analysisCh)
	c.analysisWg.Wait()
}

// RegisterChild tracks the op and holds a mapping reference on it so
// later submissions can still register edges against it.
func (c *Context) RegisterChild(op ops.Op) {
	gen := op.Base().Generation()
	c.mu.Lock()
	c.window = append(c.window, windowEntry{op: op, gen: gen})
	c.outstanding++
	c.mu.Unlock()
	op.Base().AddMappingReference(gen)
}

// ChildComplete drops the mapping reference and prunes the op from the
// window.
func (c *Context) ChildComplete(op ops.Op) {
	var gen ops.GenerationID
	found := false
	c.mu.Lock()
	for i, entry := range c.window {
		if entry.op == op {
			gen = entry.gen
			found = true
			c.window = append(c.window[:i], c.window[i+1:]...)
			break
		}
	}
	c.outstanding--
	c.mu.Unlock()
	if found {
		op.Base().RemoveMappingReference(gen)
	}
}

// ChildCommit finishes the context's accounting for a committed op.
func (c *Context) ChildCommit(op ops.Op) {
	c.mu.Lock()
	if c.currentFence != nil && c.currentFence.op == op {
		c.currentFence = nil
	}
	c.mu.Unlock()
}

// Outstanding returns the number of live tracked operations.
func (c *Context) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// WindowOps snapshots the tracked operations in submission order.
func (c *Context) WindowOps() []ops.OpGen {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ops.OpGen, 0, len(c.window))
	for _, entry := range c.window {
		out = append(out, ops.OpGen{Op: entry.op, Gen: entry.gen})
	}
	return out
}

// AnalyzeRegion walks the logical state of one requirement, registering
// an edge for every interfering prior user, and records the op as the
// newest user. Write-after-readers transitions force an intermediate
// close first.
func (c *Context) AnalyzeRegion(op ops.Op, idx int, req *region.Requirement) {
	c.mu.Lock()
	users := c.pruneUsersLocked(req.Region)
	c.mu.Unlock()

	if req.Privilege.IsWrite() && op.Kind() != ops.InterCloseOpKind {
		readers := 0
		for _, u := range users {
			if region.Interferes(u.Requirement.Region, req.Region) &&
				u.Requirement.Privilege == region.ReadOnly &&
				u.Requirement.Mask().Overlaps(req.Mask()) {
				readers++
			}
		}
		if readers >= 2 {
			c.issueInterClose(op, idx, req)
			c.mu.Lock()
			users = c.pruneUsersLocked(req.Region)
			c.mu.Unlock()
		}
	}

	base := op.Base()
	for _, u := range users {
		if u.Op == op {
			continue
		}
		if !region.Interferes(u.Requirement.Region, req.Region) {
			continue
		}
		dtype := region.CheckDependence(&u.Requirement, req)
		if dtype == region.NoDependence {
			continue
		}
		validates := dtype == region.TrueDependence && req.Privilege.IsRead()
		res := base.RegisterRegionDependence(idx, u.Op, u.Gen, u.Idx, dtype,
			validates, req.Mask())
		if res == ops.Registered {
			base.RecordLogicalDependence(u)
		}
	}

	c.mu.Lock()
	c.users[req.Region] = append(c.users[req.Region], ops.LogicalUser{
		Op:          op,
		Gen:         base.Generation(),
		Idx:         idx,
		Requirement: *req,
	})
	c.mu.Unlock()
}

// pruneUsersLocked drops users whose generation has advanced.
func (c *Context) pruneUsersLocked(r region.LogicalRegion) []ops.LogicalUser {
	users := c.users[r]
	kept := users[:0]
	for _, u := range users {
		if u.Op.Base().IsOperationCommitted(u.Gen) {
			continue
		}
		kept = append(kept, u)
	}
	c.users[r] = kept
	out := make([]ops.LogicalUser, len(kept))
	copy(out, kept)
	return out
}

// issueInterClose injects a close operation merging the prior readers
// before creator's write. The creator is excluded from the close's
// edges.
func (c *Context) issueInterClose(creator ops.Op, idx int, req *region.Requirement) {
	closeOp := c.pools.GetInterCloseOp()
	closeOp.InitializeInterClose(c, *req, creator, idx, false)
	c.log.WithField("region", req.Region.Tree).Debug("issuing inter close")
	// The close runs its analysis inline: it precedes creator in
	// program order inside this analysis slot.
	ops.RunDependenceAnalysis(closeOp)
}

// PerformFenceAnalysis orders op after the context's current fence.
func (c *Context) PerformFenceAnalysis(op ops.Op) {
	c.mu.Lock()
	fence := c.currentFence
	c.mu.Unlock()
	if fence == nil || fence.op == op {
		return
	}
	base := op.Base()
	if base.RegisterDependence(fence.op, fence.gen) != ops.Registered {
		return
	}
	if fence.execution {
		base.AddExecutionPrecondition(fence.op.Base().CompletionEvent())
	}
}

// UpdateCurrentFence makes op the fence every later submission orders
// against.
func (c *Context) UpdateCurrentFence(op ops.Op, execution bool) {
	c.mu.Lock()
	c.currentFence = &fenceRef{op: op, gen: op.Base().Generation(), execution: execution}
	c.mu.Unlock()
}

// CurrentTrace returns the trace new submissions attach to.
func (c *Context) CurrentTrace() *ops.Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTrace
}

// BeginTrace starts capturing (first use of id) or replaying (id seen
// and fixed) operations under the trace.
func (c *Context) BeginTrace(id ops.TraceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentTrace != nil {
		return ops.ErrTraceMismatch
	}
	tr := c.traces[id]
	if tr == nil {
		tr = ops.NewTrace(id, c)
		c.traces[id] = tr
	} else {
		tr.PrepareReplay()
	}
	c.currentTrace = tr
	return nil
}

// EndTrace closes the trace: a capture ends with a TraceCaptureOp, a
// replay with a TraceCompleteOp fence.
func (c *Context) EndTrace(id ops.TraceID) error {
	c.mu.Lock()
	tr := c.currentTrace
	if tr == nil || tr.ID() != id {
		c.mu.Unlock()
		return ops.ErrTraceMismatch
	}
	fixed := tr.IsFixed()
	c.mu.Unlock()

	if fixed {
		complete := c.pools.GetTraceCompleteOp()
		complete.InitializeComplete(c)
		c.mu.Lock()
		c.currentTrace = nil
		c.mu.Unlock()
		c.Submit(complete)
		return nil
	}
	capture := c.pools.GetTraceCaptureOp()
	capture.InitializeCapture(c)
	c.mu.Lock()
	c.currentTrace = nil
	c.mu.Unlock()
	c.Submit(capture)
	return nil
}

// Trace returns the trace registered under id, if any.
func (c *Context) Trace(id ops.TraceID) *ops.Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traces[id]
}

// BeginFrame blocks while the frame window is full.
func (c *Context) BeginFrame() {
	c.frameMu.Lock()
	if c.config.MaxOutstandingFrames > 0 {
		for c.frames >= c.config.MaxOutstandingFrames {
			c.frameCv.Wait()
		}
	}
	c.frames++
	c.frameMu.Unlock()
}

// CompleteFrame retires one frame and unblocks waiters.
func (c *Context) CompleteFrame() {
	c.frameMu.Lock()
	c.frames--
	c.frameCv.Broadcast()
	c.frameMu.Unlock()
}

// Frames returns the number of frames in flight.
func (c *Context) Frames() int {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	return c.frames
}

// RaiseRestart records a misspeculation restart request: it sets the
// flag that Restarted reports and logs a warning. No operation is
// re-issued or replayed.
func (c *Context) RaiseRestart(op ops.Op) {
	c.mu.Lock()
	c.restarted = true
	c.mu.Unlock()
	c.log.WithField("op", op.LoggingName()).Warn("context restart requested")
}

// Restarted reports whether a misspeculation raised the context.
func (c *Context) Restarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarted
}

// ReportAliased logs two conflicting requirements of one operation.
func (c *Context) ReportAliased(op ops.Op, idx1, idx2 int) {
	c.log.WithField("op", op.LoggingName()).
		WithField("idx1", idx1).
		WithField("idx2", idx2).
		Error("aliased region requirements")
}

// ReleaseRegion drops the logical state of a deleted region.
func (c *Context) ReleaseRegion(r region.LogicalRegion) {
	c.mu.Lock()
	delete(c.users, r)
	c.mu.Unlock()
}

var _ ops.ParentContext = (*Context)(nil)
