package flowgraph

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/triage/pkg/flowgraph/observability"
)

// executeForkJoin runs every branch of a fork concurrently and waits for all
// of them before returning. Each branch starts from the same snapshot;
// every update a branch produces is folded into the shared state with the
// graph's reducer under a mutex.
//
// Returns the merged state, the number of branch nodes executed, and a
// ForkJoinError for the first failed branch in branch order.
func (cg *CompiledGraph[S]) executeForkJoin(ec *executionContext, fork *ForkNode, state S, cfg *runConfig) (S, int, error) {
	start := time.Now()
	fj := cg.forkJoinConfig

	base := context.Context(ec)
	if fj.MergeTimeout > 0 {
		var cancel context.CancelFunc
		base, cancel = context.WithTimeout(base, fj.MergeTimeout)
		defer cancel()
	}

	var g *errgroup.Group
	if fj.FailFast {
		g, base = errgroup.WithContext(base)
	} else {
		g = &errgroup.Group{}
	}
	if fj.MaxConcurrency > 0 {
		g.SetLimit(fj.MaxConcurrency)
	}
	forkCtx := ec.withBase(base)

	var mu sync.Mutex
	merged := state
	fold := func(update S) {
		mu.Lock()
		defer mu.Unlock()
		merged = cg.reducer(merged, update)
	}

	results := make([]BranchResult[S], len(fork.Branches))
	for i, branchID := range fork.Branches {
		g.Go(func() error {
			results[i] = cg.executeBranch(forkCtx.withBranch(branchID), branchID, state, fork.JoinNodeID, cfg, fold)
			return results[i].Error
		})
	}
	_ = g.Wait()

	nodeCount := 0
	var firstErr error
	for _, r := range results {
		nodeCount += len(r.Nodes)
		if r.Error != nil && firstErr == nil {
			firstErr = &ForkJoinError{
				ForkNodeID: fork.NodeID,
				BranchID:   r.BranchID,
				Err:        r.Error,
			}
		}
		if r.Error != nil {
			observability.LogBranchError(cfg.logger, fork.NodeID, r.BranchID, r.Error)
		}
	}

	duration := time.Since(start)
	cfg.metrics.RecordForkJoin(ec, fork.NodeID, len(fork.Branches), duration, firstErr)
	observability.LogForkJoin(cfg.logger, fork.NodeID, fork.JoinNodeID, len(fork.Branches), float64(duration.Milliseconds()))

	mu.Lock()
	defer mu.Unlock()
	return merged, nodeCount, firstErr
}

// executeBranch walks one branch from its entry node until it reaches the
// join node (or END). The branch routes on its own local state.
func (cg *CompiledGraph[S]) executeBranch(bc *executionContext, branchID string, state S, joinID string, cfg *runConfig, fold func(S)) BranchResult[S] {
	start := time.Now()
	result := BranchResult[S]{BranchID: branchID}
	finish := func(local S, err error) BranchResult[S] {
		result.State = local
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	local := state
	current := branchID
	iterations := 0

	for current != joinID && current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return finish(local, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      local,
			})
		}

		if err := bc.Err(); err != nil {
			return finish(local, &CancellationError{
				NodeID: current,
				State:  local,
				Cause:  err,
			})
		}

		update, err := cg.runNode(bc, current, local, cfg)
		result.Nodes = append(result.Nodes, current)
		if err != nil {
			return finish(local, err)
		}
		local = cg.reducer(local, update)
		fold(update)

		if cg.IsForkNode(current) {
			return finish(local, &NodeError{
				NodeID: current,
				Op:     "fork",
				Err:    ErrNestedFork,
			})
		}

		next, err := cg.nextNode(bc, local, current)
		if err != nil {
			return finish(local, err)
		}
		current = next
	}

	return finish(local, nil)
}
