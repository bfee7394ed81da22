package workflow

// FailurePolicy decides what happens to the rest of an execution when a step
// fails.
type FailurePolicy string

const (
	// AbortOnFirstFailure stops the execution at the first failed step. All
	// unexecuted nodes are recorded as skipped and the execution fails.
	// This is the default.
	AbortOnFirstFailure FailurePolicy = "abort_on_first_failure"

	// ContinueOnFailure keeps executing branches that do not depend on a
	// failed node. Dependents of failed nodes are skipped; the execution
	// still ends failed if any step failed.
	ContinueOnFailure FailurePolicy = "continue_on_failure"
)

// Valid reports whether the policy is one of the known values.
func (p FailurePolicy) Valid() bool {
	return p == AbortOnFirstFailure || p == ContinueOnFailure
}
