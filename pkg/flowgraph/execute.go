package flowgraph

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/triage/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/triage/pkg/flowgraph/observability"
)

// Run executes the graph with the given input.
// Returns the final state and any error encountered.
//
// On error, the returned state is the state at the point of failure.
//
// Execution flow:
//  1. With checkpointing, load the thread's latest snapshot and fold the input over it
//  2. Start at START; fan out if START is a fork
//  3. Execute the current node and fold its update into the state
//  4. Pick the next node (fork/join, conditional or simple edge)
//  5. Checkpoint, then repeat until END
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, State{Message: "hi"},
//	    flowgraph.WithCheckpointing(store),
//	    flowgraph.WithThreadID("conversation-1"))
func (cg *CompiledGraph[S]) Run(ctx Context, input S, opts ...RunOption) (result S, runErr error) {
	if ctx == nil {
		return input, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.threadID == "" {
		return input, ErrThreadIDRequired
	}

	runID := cfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}
	threadID := cfg.threadID
	if threadID == "" {
		threadID = ctx.ThreadID()
	}
	ec := asExecutionContext(ctx).withRun(runID, threadID)

	fold := cg.reducer
	if cfg.inputMerge != nil {
		fn, ok := cfg.inputMerge.(func(S, S) S)
		if !ok {
			return input, ErrInputMergeType
		}
		fold = fn
	}

	state := input
	if cfg.checkpointStore != nil {
		prev, cp, err := cg.loadLatest(cfg.checkpointStore, threadID)
		switch {
		case err == nil:
			state = fold(prev, input)
			cfg.sequence = cp.Sequence
		case errors.Is(err, ErrNoCheckpoints):
		default:
			return input, err
		}
	}

	startTime := time.Now()
	observability.LogRunStart(cfg.logger, runID, threadID)

	if cfg.tracingEnabled {
		spanCtx, runSpan := cfg.spans.StartRunSpan(ec, "flowgraph", runID, threadID)
		ec = ec.withBase(spanCtx)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runFrom(ec, state, START, &cfg)

	duration := time.Since(startTime)
	cfg.metrics.RecordGraphRun(ec, runErr == nil, duration)

	if runErr != nil {
		observability.LogRunError(cfg.logger, runID, runErr, float64(duration.Milliseconds()), lastNodeOf(runErr))
	} else {
		observability.LogRunComplete(cfg.logger, runID, float64(duration.Milliseconds()), nodeCount)
	}

	return result, runErr
}

// runFrom drives the main line from startNode until END.
// Returns the final state, the number of nodes executed, and any error.
func (cg *CompiledGraph[S]) runFrom(ec *executionContext, state S, startNode string, cfg *runConfig) (S, int, error) {
	current := startNode
	prevNode := ""
	iterations := 0
	nodeCount := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		if err := ec.Err(); err != nil {
			return state, nodeCount, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  err,
			}
		}

		if current != START {
			update, err := cg.runNode(ec, current, state, cfg)
			if err != nil {
				return state, nodeCount, err
			}
			state = cg.reducer(state, update)
			nodeCount++
		}

		var next string
		fork, isFork := cg.forkNodes[current]
		if isFork {
			merged, branchNodes, err := cg.executeForkJoin(ec, fork, state, cfg)
			nodeCount += branchNodes
			if err != nil {
				return merged, nodeCount, err
			}
			state = merged
			next = fork.JoinNodeID
		} else {
			var err error
			next, err = cg.nextNode(ec, state, current)
			if err != nil {
				return state, nodeCount, err
			}
		}

		if cfg.checkpointStore != nil && (current != START || isFork) {
			if err := cg.saveCheckpoint(ec, cfg, current, prevNode, state, next); err != nil {
				return state, nodeCount, err
			}
		}

		prevNode = current
		current = next
	}

	return state, nodeCount, nil
}

// runNode executes one node with logging, metrics and an optional span.
// Returns the node's partial update.
func (cg *CompiledGraph[S]) runNode(ec *executionContext, nodeID string, state S, cfg *runConfig) (S, error) {
	observability.LogNodeStart(cfg.logger, nodeID)

	nodeCtx := ec
	var nodeSpan trace.Span
	if cfg.tracingEnabled {
		spanCtx, span := cfg.spans.StartNodeSpan(ec, nodeID, ec.branchID)
		nodeCtx = ec.withBase(spanCtx)
		nodeSpan = span
	}

	start := time.Now()
	update, err := cg.executeNode(nodeCtx, nodeID, state)
	duration := time.Since(start)

	cfg.metrics.RecordNodeExecution(nodeCtx, nodeID, duration, err)
	if cfg.tracingEnabled {
		cfg.spans.EndSpanWithError(nodeSpan, err)
	}

	if err != nil {
		observability.LogNodeError(cfg.logger, nodeID, err)
		return update, err
	}
	observability.LogNodeComplete(cfg.logger, nodeID, float64(duration.Milliseconds()))
	return update, nil
}

// executeNode executes a single node with panic recovery.
// Returns the node's update and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ec *executionContext, nodeID string, state S) (update S, err error) {
	fn, exists := cg.nodes[nodeID]
	if !exists {
		return update, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			var zero S
			update = zero
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	update, err = fn(ec.withNodeID(nodeID), state)
	if err != nil {
		return update, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return update, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph[S]) nextNode(ec *executionContext, state S, current string) (string, error) {
	if ce, exists := cg.conditionalEdges[current]; exists {
		key := ce.router(ec.withNodeID(current), state)
		if key == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: key,
				Err:      ErrInvalidRouterResult,
			}
		}

		next := key
		if ce.paths != nil {
			target, ok := ce.paths[key]
			if !ok {
				return "", &RouterError{
					FromNode: current,
					Returned: key,
					Err:      ErrRouterTargetNotFound,
				}
			}
			next = target
		}

		if next != END && !cg.HasNode(next) {
			return "", &RouterError{
				FromNode: current,
				Returned: key,
				Err:      ErrRouterTargetNotFound,
			}
		}
		return next, nil
	}

	edges := cg.edges[current]
	if len(edges) == 0 {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}
	return edges[0], nil
}

// saveCheckpoint persists the state after a main-line step.
// Failures are logged unless the run was configured to treat them as fatal.
func (cg *CompiledGraph[S]) saveCheckpoint(ec *executionContext, cfg *runConfig, nodeID, prevNodeID string, state S, nextNode string) error {
	fail := func(op string, err error) error {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{ThreadID: ec.threadID, NodeID: nodeID, Op: op, Err: err}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, op, err)
		return nil
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return fail("serialize", err)
	}

	cfg.sequence++
	cp := checkpoint.New(ec.threadID, nodeID, cfg.sequence, stateBytes, nextNode).
		WithRunID(ec.runID).
		WithPrevNode(prevNodeID)

	data, err := cp.Marshal()
	if err != nil {
		return fail("marshal", err)
	}

	if err := cfg.checkpointStore.Save(ec.threadID, nodeID, data); err != nil {
		return fail("save", err)
	}

	observability.LogCheckpoint(cfg.logger, nodeID, len(data))
	cfg.metrics.RecordCheckpoint(ec, nodeID, int64(len(data)))
	return nil
}

// loadLatest returns the state from the thread's most recent checkpoint.
func (cg *CompiledGraph[S]) loadLatest(store checkpoint.Store, threadID string) (S, *checkpoint.Checkpoint, error) {
	var state S

	cp, err := checkpoint.Latest(store, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return state, nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, threadID)
	}
	if err != nil {
		return state, nil, &CheckpointError{ThreadID: threadID, Op: "load", Err: err}
	}

	if cp.Version != checkpoint.Version {
		return state, nil, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	if err := json.Unmarshal(cp.State, &state); err != nil {
		return state, nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	return state, cp, nil
}
