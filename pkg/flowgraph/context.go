package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes.
// It extends context.Context with flowgraph-specific services and metadata.
//
// Context is immutable after creation. The executor creates derived contexts
// for each node with updated NodeID and an enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// ThreadID returns the conversation key the run checkpoints under.
	// Empty when the run is not checkpointed.
	ThreadID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string

	// BranchID returns the fork branch the node runs in, or "" on the main line.
	BranchID() string
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger   *slog.Logger
	runID    string
	threadID string
	nodeID   string
	branchID string
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) RunID() string        { return c.runID }
func (c *executionContext) ThreadID() string     { return c.threadID }
func (c *executionContext) NodeID() string       { return c.nodeID }
func (c *executionContext) BranchID() string     { return c.branchID }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with run_id, thread_id and node_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID will be auto-generated.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithLogger(myLogger),
//	    flowgraph.WithContextRunID("run-123"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// asExecutionContext adapts any Context to the internal implementation so
// the executor can derive per-node contexts from it.
func asExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{
		Context:  ctx,
		logger:   ctx.Logger(),
		runID:    ctx.RunID(),
		threadID: ctx.ThreadID(),
		nodeID:   ctx.NodeID(),
		branchID: ctx.BranchID(),
	}
}

// derive returns a copy of c with fields overridden by fn.
func (c *executionContext) derive(fn func(*executionContext)) *executionContext {
	next := *c
	fn(&next)
	return &next
}

// withRun binds the run and thread identifiers.
func (c *executionContext) withRun(runID, threadID string) *executionContext {
	return c.derive(func(n *executionContext) {
		n.runID = runID
		n.threadID = threadID
		n.logger = c.logger.With("run_id", runID)
		if threadID != "" {
			n.logger = n.logger.With("thread_id", threadID)
		}
	})
}

// withBase swaps the underlying context.Context, keeping flowgraph metadata.
func (c *executionContext) withBase(base context.Context) *executionContext {
	return c.derive(func(n *executionContext) {
		n.Context = base
	})
}

// withBranch marks the context as running inside a fork branch.
func (c *executionContext) withBranch(branchID string) *executionContext {
	return c.derive(func(n *executionContext) {
		n.branchID = branchID
		n.logger = c.logger.With("branch_id", branchID)
	})
}

// withNodeID returns a new context with the given node ID set.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return c.derive(func(n *executionContext) {
		n.nodeID = nodeID
		n.logger = c.logger.With("node_id", nodeID)
	})
}
