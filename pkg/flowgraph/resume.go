package flowgraph

import (
	"fmt"
	"time"

	"github.com/randalmurphal/triage/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/triage/pkg/flowgraph/observability"
)

// resumeConfig holds resume-specific configuration.
type resumeConfig struct {
	replayNode    bool
	validateState func(any) error
	run           []RunOption
}

// ResumeOption configures resume behavior.
type ResumeOption func(*resumeConfig)

// WithReplayNode re-executes the checkpointed node instead of starting
// from the node after it.
func WithReplayNode() ResumeOption {
	return func(c *resumeConfig) {
		c.replayNode = true
	}
}

// WithStateValidation rejects a loaded state before execution continues.
func WithStateValidation(fn func(any) error) ResumeOption {
	return func(c *resumeConfig) {
		c.validateState = fn
	}
}

// WithResumeRunOptions applies run options (logging, metrics, limits) to the
// resumed execution. Checkpointing always uses the store passed to Resume.
func WithResumeRunOptions(opts ...RunOption) ResumeOption {
	return func(c *resumeConfig) {
		c.run = append(c.run, opts...)
	}
}

// Resume continues an interrupted run from the thread's latest checkpoint.
// Execution restarts at the checkpoint's next node; a thread whose last
// checkpoint already points at END returns the saved state unchanged.
//
// Example:
//
//	// Process crashed after "answer" was checkpointed
//	result, err := compiled.Resume(ctx, store, "conversation-1")
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, threadID string, opts ...ResumeOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}
	if threadID == "" {
		return zero, ErrThreadIDRequired
	}

	cfg := resumeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	state, cp, err := cg.loadLatest(store, threadID)
	if err != nil {
		return zero, err
	}

	if cfg.validateState != nil {
		if err := cfg.validateState(state); err != nil {
			return state, fmt.Errorf("state validation failed: %w", err)
		}
	}

	startNode := cp.NextNode
	if cfg.replayNode {
		startNode = cp.NodeID
	}
	if startNode == END {
		return state, nil
	}
	if startNode != START && !cg.HasNode(startNode) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidResumeNode, startNode)
	}

	runCfg := defaultRunConfig()
	for _, opt := range cfg.run {
		opt(&runCfg)
	}
	runCfg.checkpointStore = store
	runCfg.threadID = threadID
	runCfg.sequence = cp.Sequence

	runID := runCfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}
	ec := asExecutionContext(ctx).withRun(runID, threadID)

	start := time.Now()
	observability.LogRunStart(runCfg.logger, runID, threadID)
	result, nodeCount, err := cg.runFrom(ec, state, startNode, &runCfg)
	duration := time.Since(start)
	runCfg.metrics.RecordGraphRun(ec, err == nil, duration)
	if err != nil {
		observability.LogRunError(runCfg.logger, runID, err, float64(duration.Milliseconds()), lastNodeOf(err))
		return result, err
	}
	observability.LogRunComplete(runCfg.logger, runID, float64(duration.Milliseconds()), nodeCount)
	return result, nil
}
