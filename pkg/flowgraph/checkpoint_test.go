package flowgraph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/triage/pkg/flowgraph"
	"github.com/randalmurphal/triage/pkg/flowgraph/checkpoint"
)

type convoState struct {
	Turns   []string `json:"turns,omitempty"`
	Message string   `json:"message,omitempty"`
	Reply   string   `json:"reply,omitempty"`
}

func mergeConvo(current, update convoState) convoState {
	out := current
	out.Turns = append(append([]string(nil), current.Turns...), update.Turns...)
	if update.Message != "" {
		out.Message = update.Message
	}
	if update.Reply != "" {
		out.Reply = update.Reply
	}
	return out
}

func echoGraph(t *testing.T, extra ...func(*flowgraph.Graph[convoState])) *flowgraph.CompiledGraph[convoState] {
	t.Helper()
	g := flowgraph.NewGraph[convoState]().
		SetReducer(mergeConvo).
		AddNode("listen", func(_ flowgraph.Context, s convoState) (convoState, error) {
			return convoState{Turns: []string{s.Message}}, nil
		}).
		AddNode("reply", func(_ flowgraph.Context, s convoState) (convoState, error) {
			return convoState{Reply: "echo: " + s.Message}, nil
		}).
		AddEdge(flowgraph.START, "listen").
		AddEdge("listen", "reply").
		AddEdge("reply", flowgraph.END)
	for _, fn := range extra {
		fn(g)
	}
	compiled, err := g.Compile()
	require.NoError(t, err)
	return compiled
}

func TestCheckpointing_SavesEveryMainLineStep(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := echoGraph(t)

	_, err := compiled.Run(flowgraph.NewContext(context.Background()), convoState{Message: "hi"},
		flowgraph.WithCheckpointing(store),
		flowgraph.WithThreadID("thread-1"))
	require.NoError(t, err)

	infos, err := store.List("thread-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "listen", infos[0].NodeID)
	assert.Equal(t, "reply", infos[1].NodeID)

	latest, err := checkpoint.Latest(store, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, flowgraph.END, latest.NextNode)
	assert.Equal(t, "listen", latest.PrevNodeID)
	assert.Equal(t, 2, latest.Sequence)
	assert.JSONEq(t, `{"turns":["hi"],"message":"hi","reply":"echo: hi"}`, string(latest.State))
}

func TestCheckpointing_RequiresThreadID(t *testing.T) {
	compiled := echoGraph(t)

	_, err := compiled.Run(flowgraph.NewContext(context.Background()), convoState{},
		flowgraph.WithCheckpointing(checkpoint.NewMemoryStore()))
	assert.ErrorIs(t, err, flowgraph.ErrThreadIDRequired)
}

func TestCheckpointing_ContinuesThread(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := echoGraph(t)
	ctx := flowgraph.NewContext(context.Background())
	opts := []flowgraph.RunOption{flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("thread-1")}

	_, err := compiled.Run(ctx, convoState{Message: "first"}, opts...)
	require.NoError(t, err)

	result, err := compiled.Run(ctx, convoState{Message: "second"}, opts...)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, result.Turns, "input folds over the saved snapshot")
	assert.Equal(t, "echo: second", result.Reply)

	latest, err := checkpoint.Latest(store, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 4, latest.Sequence, "sequence continues across runs")
}

func TestCheckpointing_InputMerge(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := echoGraph(t)
	ctx := flowgraph.NewContext(context.Background())
	opts := []flowgraph.RunOption{flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("thread-1")}

	_, err := compiled.Run(ctx, convoState{Message: "first"}, opts...)
	require.NoError(t, err)

	replace := func(prev, input convoState) convoState {
		prev.Message = input.Message
		return prev
	}
	result, err := compiled.Run(ctx, convoState{}, append(opts, flowgraph.WithInputMerge(replace))...)
	require.NoError(t, err)

	assert.Equal(t, "", result.Message, "empty input message replaces the saved one")
	assert.Equal(t, []string{"first", ""}, result.Turns)
	assert.Equal(t, "echo: ", result.Reply)

	_, err = compiled.Run(ctx, convoState{}, append(opts, flowgraph.WithInputMerge(func(prev, _ int) int { return prev }))...)
	assert.ErrorIs(t, err, flowgraph.ErrInputMergeType)
}

func TestCheckpointing_ThreadsAreIsolated(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := echoGraph(t)
	ctx := flowgraph.NewContext(context.Background())

	_, err := compiled.Run(ctx, convoState{Message: "a"},
		flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("t-a"))
	require.NoError(t, err)

	result, err := compiled.Run(ctx, convoState{Message: "b"},
		flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("t-b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, result.Turns)
}

func TestCheckpointing_ForkJoinSavedAsOneStep(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled, err := flowgraph.NewGraph[convoState]().
		SetReducer(mergeConvo).
		AddNode("a", func(flowgraph.Context, convoState) (convoState, error) {
			return convoState{Turns: []string{"a"}}, nil
		}).
		AddNode("b", func(flowgraph.Context, convoState) (convoState, error) {
			return convoState{Turns: []string{"b"}}, nil
		}).
		AddNode("join", func(flowgraph.Context, convoState) (convoState, error) {
			return convoState{Reply: "joined"}, nil
		}).
		AddEdge(flowgraph.START, "a").
		AddEdge(flowgraph.START, "b").
		AddEdge("a", "join").
		AddEdge("b", "join").
		AddEdge("join", flowgraph.END).
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(flowgraph.NewContext(context.Background()), convoState{},
		flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("t"))
	require.NoError(t, err)

	infos, err := store.List("t")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, flowgraph.START, infos[0].NodeID)
	assert.Equal(t, "join", infos[1].NodeID)

	data, err := store.Load("t", flowgraph.START)
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "join", cp.NextNode)
}

// failingStore rejects every save.
type failingStore struct {
	*checkpoint.MemoryStore
}

func (failingStore) Save(string, string, []byte) error { return errors.New("disk full") }

func TestCheckpointing_SaveFailure(t *testing.T) {
	compiled := echoGraph(t)
	ctx := flowgraph.NewContext(context.Background())
	store := failingStore{checkpoint.NewMemoryStore()}

	result, err := compiled.Run(ctx, convoState{Message: "hi"},
		flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("t"))
	require.NoError(t, err, "non-fatal by default")
	assert.Equal(t, "echo: hi", result.Reply)

	_, err = compiled.Run(ctx, convoState{Message: "hi"},
		flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("t"),
		flowgraph.WithCheckpointFailureFatal(true))
	var cpErr *flowgraph.CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "save", cpErr.Op)
	assert.Equal(t, "listen", cpErr.NodeID)
}

func TestCheckpointing_CorruptSnapshot(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cp := checkpoint.New("t", "listen", 1, []byte(`{"turns": 5}`), "reply")
	data, err := cp.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save("t", "listen", data))

	_, err = echoGraph(t).Run(flowgraph.NewContext(context.Background()), convoState{},
		flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("t"))
	assert.ErrorIs(t, err, flowgraph.ErrDeserializeState)
}

func TestResume_ContinuesFromNextNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	crash := errors.New("process died")
	calls := 0

	build := func(fail bool) *flowgraph.CompiledGraph[convoState] {
		compiled, err := flowgraph.NewGraph[convoState]().
			SetReducer(mergeConvo).
			AddNode("listen", func(_ flowgraph.Context, s convoState) (convoState, error) {
				calls++
				return convoState{Turns: []string{s.Message}}, nil
			}).
			AddNode("reply", func(_ flowgraph.Context, s convoState) (convoState, error) {
				if fail {
					return convoState{}, crash
				}
				return convoState{Reply: "done"}, nil
			}).
			AddEdge(flowgraph.START, "listen").
			AddEdge("listen", "reply").
			AddEdge("reply", flowgraph.END).
			Compile()
		require.NoError(t, err)
		return compiled
	}

	ctx := flowgraph.NewContext(context.Background())
	_, err := build(true).Run(ctx, convoState{Message: "hi"},
		flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("t"))
	require.ErrorIs(t, err, crash)

	result, err := build(false).Resume(ctx, store, "t")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Reply)
	assert.Equal(t, []string{"hi"}, result.Turns)
	assert.Equal(t, 1, calls, "listen is not re-executed")

	// A completed thread resumes to a no-op.
	again, err := build(false).Resume(ctx, store, "t")
	require.NoError(t, err)
	assert.Equal(t, result, again)
}

func TestResume_Errors(t *testing.T) {
	ctx := flowgraph.NewContext(context.Background())
	compiled := echoGraph(t)
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Resume(ctx, store, "missing")
	assert.ErrorIs(t, err, flowgraph.ErrNoCheckpoints)

	_, err = compiled.Resume(ctx, store, "")
	assert.ErrorIs(t, err, flowgraph.ErrThreadIDRequired)

	cp := checkpoint.New("t", "listen", 1, []byte(`{}`), "vanished")
	data, err := cp.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save("t", "listen", data))

	_, err = compiled.Resume(ctx, store, "t")
	assert.ErrorIs(t, err, flowgraph.ErrInvalidResumeNode)

	cp = checkpoint.New("v", "listen", 1, []byte(`{}`), "reply")
	cp.Version = 99
	data, err = cp.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save("v", "listen", data))

	_, err = compiled.Resume(ctx, store, "v")
	assert.ErrorIs(t, err, flowgraph.ErrCheckpointVersionMismatch)
}

func TestResume_ReplayAndValidation(t *testing.T) {
	ctx := flowgraph.NewContext(context.Background())
	compiled := echoGraph(t)
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Run(ctx, convoState{Message: "hi"},
		flowgraph.WithCheckpointing(store), flowgraph.WithThreadID("t"))
	require.NoError(t, err)

	result, err := compiled.Resume(ctx, store, "t", flowgraph.WithReplayNode())
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", result.Reply)

	rejected := errors.New("stale")
	_, err = compiled.Resume(ctx, store, "t", flowgraph.WithStateValidation(func(any) error { return rejected }))
	assert.ErrorIs(t, err, rejected)
}
