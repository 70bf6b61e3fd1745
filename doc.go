// Package legion implements the operation graph core of a deferred
// task-parallel runtime: applications issue operations against a parent
// context, the core builds the dependence graph among them at
// submission time, and every operation is driven through dependence
// analysis, mapping, execution, completion and commit by event-fired
// callbacks. Predicated operations may speculate ahead of their
// predicate and are quashed on mispredict; repeated operation sequences
// can be traced so their dependence analysis is memoized.
//
// Placement, region-tree queries and deferred-completion primitives are
// consumed from the mapper, forest and event collaborators; the core
// only orchestrates.
package legion
