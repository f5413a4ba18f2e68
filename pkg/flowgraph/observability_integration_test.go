package flowgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func logMessages(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func messagesOf(recs []map[string]any) []string {
	msgs := make([]string, 0, len(recs))
	for _, r := range recs {
		msgs = append(msgs, r["msg"].(string))
	}
	return msgs
}

func TestRun_WithObservabilityLogger(t *testing.T) {
	logger, buf := captureLogger()

	compiled, err := NewGraph[Counter]().
		AddNode("inc1", increment).
		AddNode("inc2", increment).
		AddEdge("inc1", "inc2").
		AddEdge("inc2", END).
		SetEntry("inc1").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), Counter{}, WithObservabilityLogger(logger), WithThreadID("t-1"))
	require.NoError(t, err)

	recs := logMessages(t, buf)
	assert.Equal(t, []string{
		"graph run starting",
		"node starting", "node completed",
		"node starting", "node completed",
		"graph run completed",
	}, messagesOf(recs))
	assert.Equal(t, "t-1", recs[0]["thread_id"])
	assert.InDelta(t, 2, recs[len(recs)-1]["nodes_executed"], 0)
}

func TestRun_LogsFailureWithLastNode(t *testing.T) {
	logger, buf := captureLogger()

	compiled, err := NewGraph[State]().
		AddNode("bad", makeFailingNode(errors.New("nope"))).
		AddEdge("bad", END).
		SetEntry("bad").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), State{}, WithObservabilityLogger(logger))
	require.Error(t, err)

	recs := logMessages(t, buf)
	last := recs[len(recs)-1]
	assert.Equal(t, "graph run failed", last["msg"])
	assert.Equal(t, "bad", last["last_node"])
}

func TestRun_LogsForkJoin(t *testing.T) {
	logger, buf := captureLogger()

	compiled := fanOutGraph(t, DefaultForkJoinConfig(), map[string]NodeFunc[State]{
		"sentiment": setField("sentiment", "Positive"),
		"topic":     setField("topic", "billing"),
	}, visit("join"))

	_, err := compiled.Run(testCtx(), State{}, WithObservabilityLogger(logger))
	require.NoError(t, err)

	var fj map[string]any
	for _, r := range logMessages(t, buf) {
		if r["msg"] == "fork/join completed" {
			fj = r
		}
	}
	require.NotNil(t, fj)
	assert.Equal(t, START, fj["fork_node"])
	assert.Equal(t, "join", fj["join_node"])
	assert.InDelta(t, 2, fj["branches"], 0)
}

func TestRun_NodeLoggerIsEnriched(t *testing.T) {
	logger, buf := captureLogger()
	node := func(ctx Context, c Counter) (Counter, error) {
		ctx.Logger().Info("inside")
		return c, nil
	}

	compiled, err := NewGraph[Counter]().AddNode("probe", node).AddEdge("probe", END).SetEntry("probe").Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithLogger(logger))
	_, err = compiled.Run(ctx, Counter{}, WithRunID("run-5"), WithThreadID("t-5"))
	require.NoError(t, err)

	recs := logMessages(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "run-5", recs[0]["run_id"])
	assert.Equal(t, "t-5", recs[0]["thread_id"])
	assert.Equal(t, "probe", recs[0]["node_id"])
}

func TestRun_WithMetricsAndTracing(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	compiled := fanOutGraph(t, DefaultForkJoinConfig(), map[string]NodeFunc[State]{
		"sentiment": setField("sentiment", "Positive"),
		"topic":     setField("topic", "billing"),
	}, visit("join"))

	_, err := compiled.Run(testCtx(), State{}, WithMetrics(true), WithTracing(true))
	require.NoError(t, err)

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{
		"flowgraph.node.sentiment",
		"flowgraph.node.topic",
		"flowgraph.node.join",
		"flowgraph.run",
	}, names)

	// The default recorder is created once per process, so it may be bound
	// to an earlier provider; only assert when our reader sees the instruments.
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "flowgraph.node.executions" {
				sum := m.Data.(metricdata.Sum[int64])
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				assert.Equal(t, int64(3), total)
			}
		}
	}
}
