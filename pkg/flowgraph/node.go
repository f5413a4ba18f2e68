package flowgraph

// START is the virtual source node. Edges from START declare the graph's
// entry; more than one edge from START fans out into parallel branches.
const START = "__start__"

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and the current state and return a
// partial update. The graph's Reducer folds the update into the running
// state; with the default reducer the update replaces the state outright.
//
// Nodes must treat the incoming state as read-only. Parallel branches are
// handed the same snapshot.
//
// Example:
//
//	func summarize(ctx flowgraph.Context, s State) (State, error) {
//	    return State{Summary: shorten(s.Input)}, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime state.
//
// Without a path map the router returns a node ID or END directly. With a
// path map it returns a key that the map translates into a node ID.
//
// Example:
//
//	func router(ctx flowgraph.Context, s State) string {
//	    if s.Done {
//	        return "done"
//	    }
//	    return "retry"
//	}
type RouterFunc[S any] func(ctx Context, state S) string

// Reducer folds a node's partial update into the current state.
// It must not mutate either argument.
type Reducer[S any] func(current, update S) S

// replaceReducer is the default reducer: the update becomes the new state.
func replaceReducer[S any](_ S, update S) S {
	return update
}
