package ops

import "errors"

// Error kinds the core can surface to the enclosing context.
var (
	// ErrPrivilege reports a launcher requirement not subsumed by the
	// parent context's privileges.
	ErrPrivilege = errors.New("region requirement exceeds parent privileges")

	// ErrAliasedRequirements reports two requirements of one operation
	// conflicting on the same logical state.
	ErrAliasedRequirements = errors.New("aliased region requirements")

	// ErrMustEpochInfeasible reports a must-parallel epoch whose
	// members cannot be scheduled simultaneously.
	ErrMustEpochInfeasible = errors.New("must epoch not feasible")

	// ErrPartitionCompute reports a partition thunk that failed.
	ErrPartitionCompute = errors.New("partition computation failed")

	// ErrTraceMismatch reports trace bookkeeping called out of order.
	ErrTraceMismatch = errors.New("trace operation mismatch")
)
