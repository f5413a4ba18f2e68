package flowgraph

import "time"

// ForkJoinConfig configures parallel execution behavior.
// All fields have sensible defaults (zero values are valid).
type ForkJoinConfig struct {
	// MaxConcurrency limits the number of branches executing simultaneously.
	// 0 = unlimited (all branches start immediately).
	MaxConcurrency int

	// FailFast cancels the remaining branches when any branch fails.
	// false = wait for all branches to complete (default).
	FailFast bool

	// MergeTimeout bounds the whole fork/join. 0 = no timeout.
	// Branches still running at the deadline see a cancelled context.
	MergeTimeout time.Duration
}

// DefaultForkJoinConfig returns the default configuration.
// Unlimited concurrency, wait for all branches, no timeout.
func DefaultForkJoinConfig() ForkJoinConfig {
	return ForkJoinConfig{}
}

// ForkNode represents a point where execution splits into parallel branches.
// It is computed during compilation from nodes (or START) with multiple
// outgoing edges.
type ForkNode struct {
	// NodeID is the fork node, or START when the run begins with a fan-out.
	NodeID string

	// Branches are the first node of each branch.
	Branches []string

	// JoinNodeID is where all branches converge, or END if they never do.
	JoinNodeID string
}

// JoinNode represents a point where parallel branches converge.
// A join node runs once, after every expected branch has finished.
type JoinNode struct {
	// NodeID is the ID of the join node in the graph.
	NodeID string

	// ForkNodeID is the corresponding fork node.
	ForkNodeID string

	// ExpectedBranches are the branch entry nodes that must complete.
	ExpectedBranches []string
}

// BranchResult holds the outcome of a single branch execution.
type BranchResult[S any] struct {
	// BranchID identifies this branch (same as its first node ID).
	BranchID string

	// State is the branch-local state when it reached the join point.
	State S

	// Nodes lists the nodes the branch executed, in order.
	Nodes []string

	// Error is set if the branch failed.
	Error error

	// Duration is how long the branch took to execute.
	Duration time.Duration
}
