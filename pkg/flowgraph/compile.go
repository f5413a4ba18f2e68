package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks (in order):
//  1. An entry must exist (edges from START, or SetEntry)
//  2. Entry targets must reference existing nodes
//  3. All edge sources must reference existing nodes
//  4. All edge and path-map targets must reference existing nodes or END
//  5. A path to END must exist from the entry
//
// Unreachable nodes are logged as warnings but do not fail compilation.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := make(map[string][]string, len(g.edges)+1)
	for from, targets := range g.edges {
		edges[from] = slices.Clone(targets)
	}
	if len(edges[START]) == 0 && g.entryPoint != "" {
		edges[START] = []string{g.entryPoint}
	}

	var errs []error

	if len(edges[START]) == 0 {
		errs = append(errs, ErrNoEntryPoint)
	}
	for _, entry := range edges[START] {
		if _, exists := g.nodes[entry]; !exists {
			errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, entry))
		}
	}

	for from, targets := range edges {
		if from != START {
			if _, exists := g.nodes[from]; !exists {
				errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
			}
		}
		for _, to := range targets {
			if to == START {
				errs = append(errs, fmt.Errorf("%w: edge from '%s' targets START", ErrNodeNotFound, from))
				continue
			}
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
				}
			}
		}
	}

	for from, ce := range g.conditionalEdges {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for key, to := range ce.paths {
			if to == END {
				continue
			}
			if _, exists := g.nodes[to]; !exists {
				errs = append(errs, fmt.Errorf("%w: path %q from '%s' targets '%s'", ErrNodeNotFound, key, from, to))
			}
		}
	}

	if len(errs) == 0 && !hasPathToEnd(edges, g.conditionalEdges) {
		errs = append(errs, ErrNoPathToEnd)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	warnUnreachableNodes(g.nodes, edges, g.conditionalEdges)

	return g.buildCompiledGraph(edges), nil
}

// hasPathToEnd propagates "can reach END" backwards until nothing changes.
// A conditional edge without a path map may return END, so it counts as
// reaching END; one with a path map reaches END only through its targets.
func hasPathToEnd[S any](edges map[string][]string, conditional map[string]conditionalEdge[S]) bool {
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false

		for from, targets := range edges {
			if canReachEnd[from] {
				continue
			}
			if slices.ContainsFunc(targets, func(to string) bool { return canReachEnd[to] }) {
				canReachEnd[from] = true
				changed = true
			}
		}

		for from, ce := range conditional {
			if canReachEnd[from] {
				continue
			}
			if ce.paths == nil || slices.ContainsFunc(slices.Collect(maps.Values(ce.paths)), func(to string) bool { return canReachEnd[to] }) {
				canReachEnd[from] = true
				changed = true
			}
		}
	}

	return canReachEnd[START]
}

// warnUnreachableNodes logs warnings for nodes not reachable from START.
func warnUnreachableNodes[S any](nodes map[string]NodeFunc[S], edges map[string][]string, conditional map[string]conditionalEdge[S]) {
	reachable := map[string]bool{START: true}
	queue := []string{START}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		next := slices.Clone(edges[current])
		if ce, ok := conditional[current]; ok {
			if ce.paths == nil {
				// The router may name any node.
				next = slices.Collect(maps.Keys(nodes))
			} else {
				next = append(next, slices.Collect(maps.Values(ce.paths))...)
			}
		}

		for _, target := range next {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	for nodeID := range nodes {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph[S]) buildCompiledGraph(edges map[string][]string) *CompiledGraph[S] {
	conditionalEdges := make(map[string]conditionalEdge[S], len(g.conditionalEdges))
	isConditional := make(map[string]bool, len(g.conditionalEdges))
	for from, ce := range g.conditionalEdges {
		conditionalEdges[from] = conditionalEdge[S]{router: ce.router, paths: maps.Clone(ce.paths)}
		isConditional[from] = true
	}

	predecessors := make(map[string][]string)
	for from, targets := range edges {
		for _, to := range targets {
			if to != END {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	reducer := g.reducer
	if reducer == nil {
		reducer = replaceReducer[S]
	}

	forkNodes, joinNodes := detectForkJoinNodes(edges, isConditional)

	return &CompiledGraph[S]{
		nodes:            maps.Clone(g.nodes),
		edges:            edges,
		conditionalEdges: conditionalEdges,
		predecessors:     predecessors,
		isConditional:    isConditional,
		reducer:          reducer,
		forkJoinConfig:   g.forkJoinConfig,
		forkNodes:        forkNodes,
		joinNodes:        joinNodes,
	}
}

// detectForkJoinNodes identifies fork and join nodes in the graph.
// A fork has more than one unconditional outgoing edge. Its join is the
// closest node every branch reaches through unconditional edges; a fork
// whose branches never meet joins at END.
func detectForkJoinNodes(edges map[string][]string, isConditional map[string]bool) (map[string]*ForkNode, map[string]*JoinNode) {
	forkNodes := make(map[string]*ForkNode)
	joinNodes := make(map[string]*JoinNode)

	for from, targets := range edges {
		if len(targets) < 2 || isConditional[from] {
			continue
		}

		fork := &ForkNode{
			NodeID:     from,
			Branches:   slices.Clone(targets),
			JoinNodeID: findJoinNode(targets, edges),
		}
		forkNodes[from] = fork

		if fork.JoinNodeID != END {
			joinNodes[fork.JoinNodeID] = &JoinNode{
				NodeID:           fork.JoinNodeID,
				ForkNodeID:       from,
				ExpectedBranches: fork.Branches,
			}
		}
	}

	return forkNodes, joinNodes
}

// findJoinNode intersects the reachable sets of every branch and returns
// the common node closest to the first branch, or END if there is none.
func findJoinNode(branches []string, edges map[string][]string) string {
	common := computeReachable(branches[0], edges)
	for _, branch := range branches[1:] {
		reach := computeReachable(branch, edges)
		maps.DeleteFunc(common, func(node string, _ bool) bool { return !reach[node] })
	}

	if len(common) == 0 {
		return END
	}

	if join := findClosestNode(branches[0], common, edges); join != "" {
		return join
	}
	return END
}

// computeReachable returns all nodes reachable from start, start included.
func computeReachable(start string, edges map[string][]string) map[string]bool {
	reachable := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range edges[current] {
			if next != END && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	return reachable
}

// findClosestNode runs a BFS from start and returns the first node in targets.
func findClosestNode(start string, targets map[string]bool, edges map[string][]string) string {
	if targets[start] {
		return start
	}

	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range edges[current] {
			if next == END {
				continue
			}
			if targets[next] {
				return next
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	return ""
}
