package flowgraph

import (
	"context"
	"maps"
	"sync"
)

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int
}

// State is a record-style state for routing and reducer tests.
type State struct {
	Path    []string          `json:"path,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Count   int               `json:"count,omitempty"`
	Done    bool              `json:"done,omitempty"`
	Message string            `json:"message,omitempty"`
}

// mergeState overlays the update's non-empty fields and appends paths.
func mergeState(current, update State) State {
	out := current
	out.Path = append(append([]string(nil), current.Path...), update.Path...)
	if len(update.Fields) > 0 {
		out.Fields = maps.Clone(current.Fields)
		if out.Fields == nil {
			out.Fields = make(map[string]string)
		}
		maps.Copy(out.Fields, update.Fields)
	}
	if update.Count != 0 {
		out.Count = update.Count
	}
	if update.Done {
		out.Done = true
	}
	if update.Message != "" {
		out.Message = update.Message
	}
	return out
}

// increment is a node that increments the counter.
func increment(_ Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

// visit returns an update that records the node in Path.
func visit(name string) NodeFunc[State] {
	return func(_ Context, _ State) (State, error) {
		return State{Path: []string{name}}, nil
	}
}

// setField returns an update that sets one field.
func setField(key, value string) NodeFunc[State] {
	return func(_ Context, _ State) (State, error) {
		return State{Fields: map[string]string{key: value}, Path: []string{key}}, nil
	}
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc[State] {
	return func(_ Context, s State) (State, error) {
		return State{}, err
	}
}

// makePanicNode creates a node that panics with the given value.
func makePanicNode(value any) NodeFunc[State] {
	return func(_ Context, _ State) (State, error) {
		panic(value)
	}
}

// callLog records node invocations from concurrent branches.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// testCtx creates a simple test context.
func testCtx() Context {
	return NewContext(context.Background())
}
