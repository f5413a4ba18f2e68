package flowgraph

import (
	"fmt"
	"maps"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	graph := flowgraph.NewGraph[MyState]().
//	    AddNode("a", nodeA).
//	    AddNode("b", nodeB).
//	    AddNode("join", joinNode).
//	    AddEdge(flowgraph.START, "a").
//	    AddEdge(flowgraph.START, "b").
//	    AddEdge("a", "join").
//	    AddEdge("b", "join").
//	    AddEdge("join", flowgraph.END).
//	    SetReducer(mergeState)
//
//	compiled, err := graph.Compile()
type Graph[S any] struct {
	mu               sync.RWMutex
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]conditionalEdge[S]
	entryPoint       string
	reducer          Reducer[S]
	forkJoinConfig   ForkJoinConfig
}

// conditionalEdge pairs a router with its optional key-to-node mapping.
type conditionalEdge[S any] struct {
	router RouterFunc[S]
	paths  map[string]string
}

// NewGraph creates a new graph builder for state type S.
// The type parameter S defines the state that flows through the graph.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            make(map[string]NodeFunc[S]),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]conditionalEdge[S]),
		forkJoinConfig:   DefaultForkJoinConfig(),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is a reserved word (END, START, __end__, __start__; case-insensitive)
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
//   - id already exists in the graph
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if id == "" {
		panic("flowgraph: node ID cannot be empty")
	}

	switch strings.ToLower(id) {
	case "end", END, "start", START:
		panic(fmt.Sprintf("flowgraph: node ID cannot be reserved word %q", id))
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("flowgraph: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}

	g.nodes[id] = fn
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The source can be START; the target can be a node ID or END.
// A source with more than one unconditional edge is a fork: its targets
// run in parallel until they converge.
//
// Edge validation happens at Compile() time, not here.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a conditional edge where a RouterFunc picks the
// next node at runtime. When paths is non-nil the router's return value is
// looked up in it; otherwise the return value is used as the node ID.
//
// A node can have either simple edges or a conditional edge, not both.
// If both are present, the conditional edge takes precedence.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S], paths map[string]string) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = conditionalEdge[S]{
		router: router,
		paths:  maps.Clone(paths),
	}
	return g
}

// SetEntry designates a single entry node. It is shorthand for
// AddEdge(START, id) and is ignored when START already has edges.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}

// SetReducer sets the function that folds node updates into the state.
// Defaults to replacing the state with each update.
func (g *Graph[S]) SetReducer(r Reducer[S]) *Graph[S] {
	if r == nil {
		panic("flowgraph: reducer cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.reducer = r
	return g
}

// SetForkJoinConfig configures how parallel branches execute.
func (g *Graph[S]) SetForkJoinConfig(cfg ForkJoinConfig) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.forkJoinConfig = cfg
	return g
}
