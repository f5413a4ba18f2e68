package flowgraph

import (
	"maps"
	"slices"
)

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls. The graph structure cannot be modified after compilation.
type CompiledGraph[S any] struct {
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]conditionalEdge[S]
	predecessors     map[string][]string
	isConditional    map[string]bool
	reducer          Reducer[S]

	forkJoinConfig ForkJoinConfig
	forkNodes      map[string]*ForkNode // fork node ID (or START) -> fork info
	joinNodes      map[string]*JoinNode // join node ID -> join info
}

// EntryPoints returns the nodes that START leads to.
// More than one entry means the run begins with a fork.
func (cg *CompiledGraph[S]) EntryPoints() []string {
	return slices.Clone(cg.edges[START])
}

// NodeIDs returns all node identifiers in the graph, sorted.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return slices.Sorted(maps.Keys(cg.nodes))
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns the targets of id's unconditional edges.
// Returns nil for END or unknown nodes.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if id == END {
		return nil
	}
	return slices.Clone(cg.edges[id])
}

// Predecessors returns the node IDs (or START) that have edges to id.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return slices.Clone(cg.predecessors[id])
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	return cg.isConditional[id]
}

// ConditionalTargets returns the path map of id's conditional edge, or nil.
func (cg *CompiledGraph[S]) ConditionalTargets(id string) map[string]string {
	return maps.Clone(cg.conditionalEdges[id].paths)
}

// IsForkNode reports whether id fans out into parallel branches.
func (cg *CompiledGraph[S]) IsForkNode(id string) bool {
	_, exists := cg.forkNodes[id]
	return exists
}

// GetForkNode returns the fork information for a node, or nil if not a fork.
func (cg *CompiledGraph[S]) GetForkNode(id string) *ForkNode {
	return cg.forkNodes[id]
}

// IsJoinNode reports whether parallel branches converge at id.
func (cg *CompiledGraph[S]) IsJoinNode(id string) bool {
	_, exists := cg.joinNodes[id]
	return exists
}

// GetJoinNode returns the join information for a node, or nil if not a join.
func (cg *CompiledGraph[S]) GetJoinNode(id string) *JoinNode {
	return cg.joinNodes[id]
}

// ForkNodes returns all fork nodes in the graph.
func (cg *CompiledGraph[S]) ForkNodes() []*ForkNode {
	return slices.Collect(maps.Values(cg.forkNodes))
}

// HasParallelExecution returns true if the graph contains any fork/join structures.
func (cg *CompiledGraph[S]) HasParallelExecution() bool {
	return len(cg.forkNodes) > 0
}

// Reduce folds update into current using the graph's reducer.
func (cg *CompiledGraph[S]) Reduce(current, update S) S {
	return cg.reducer(current, update)
}
