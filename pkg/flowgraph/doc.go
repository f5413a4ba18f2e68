/*
Package flowgraph runs typed state graphs: nodes return partial updates,
a reducer folds them into the running state, and edges (plain, fan-out or
conditional) pick what runs next.

# Basic Usage

	type State struct {
	    Message string
	    Reply   string
	}

	graph := flowgraph.NewGraph[State]().
	    AddNode("reply", func(ctx flowgraph.Context, s State) (State, error) {
	        return State{Reply: "echo: " + s.Message}, nil
	    }).
	    AddEdge(flowgraph.START, "reply").
	    AddEdge("reply", flowgraph.END).
	    SetReducer(merge)

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}
	result, err := compiled.Run(flowgraph.NewContext(ctx), State{Message: "hi"})

Without SetReducer the update replaces the state, which suits nodes that
return the whole state.

# Fan-out and Join

A source with several unconditional edges is a fork. Its targets run
concurrently from the same snapshot and every update is folded into the
shared state under a lock. Execution continues at the join (the closest
node all branches reach) only after every branch finished:

	graph.
	    AddEdge(flowgraph.START, "sentiment").
	    AddEdge(flowgraph.START, "topic").
	    AddEdge("sentiment", "gate").
	    AddEdge("topic", "gate")

ForkJoinConfig bounds concurrency, enables fail-fast cancellation and puts
a deadline on the whole fan-out. Forks inside a branch are rejected at run
time with ErrNestedFork.

# Conditional Routing

	graph.AddConditionalEdge("gate", route, map[string]string{
	    "answer": "answer",
	    "refuse": flowgraph.END,
	})

With a path map the router returns a key; without one it returns a node ID
or END. Loops are bounded by WithMaxIterations (default 1000).

# Threads and Checkpoints

	result, err := compiled.Run(ctx, State{Message: "and my refund?"},
	    flowgraph.WithCheckpointing(store),
	    flowgraph.WithThreadID("conversation-1"))

The thread's latest snapshot is loaded first and the input is folded over
it, so each run continues the conversation. A checkpoint is written after
every main-line step (a node, or a whole fan-out). Resume restarts an
interrupted run at the saved next node.

# Observability

WithObservabilityLogger, WithMetrics and WithTracing turn on slog lifecycle
logs and OpenTelemetry instruments. Nodes log through ctx.Logger(), which
carries run_id, thread_id, node_id and branch_id.

# Errors

Node failures arrive as *NodeError, panics as *PanicError, failed fan-outs
as *ForkJoinError; all unwrap to the cause. On error Run returns the state
at the point of failure.

# Thread Safety

Graph is not safe for concurrent construction. CompiledGraph is immutable
and can serve concurrent runs. Store implementations are safe for
concurrent use.
*/
package flowgraph
