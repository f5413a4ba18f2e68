package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics builds instruments on a private provider with a manual reader.
func newTestMetrics(t *testing.T) (*otelMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := newOtelMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder_UsesGlobalProvider(t *testing.T) {
	prev := otel.GetMeterProvider()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = provider.Shutdown(context.Background())
	})

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop)
}

func TestRecordNodeExecution(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordNodeExecution(ctx, "sentiment", 10*time.Millisecond, nil)
	m.RecordNodeExecution(ctx, "topic", 20*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, rm, "flowgraph.node.executions"))
	assert.Equal(t, int64(1), sumOf(t, rm, "flowgraph.node.errors"))
	assert.NotNil(t, findMetric(rm, "flowgraph.node.latency_ms"))
}

func TestRecordGraphRunAndCheckpoint(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGraphRun(ctx, true, time.Millisecond)
	m.RecordGraphRun(ctx, false, time.Millisecond)
	m.RecordCheckpoint(ctx, "answer", 512)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, rm, "flowgraph.graph.runs"))

	hist := findMetric(rm, "flowgraph.checkpoint.size_bytes")
	require.NotNil(t, hist)
	data, ok := hist.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, int64(512), data.DataPoints[0].Sum)
}

func TestRecordForkJoin(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordForkJoin(context.Background(), "__start__", 3, 15*time.Millisecond, nil)

	rm := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, rm, "flowgraph.forkjoin.runs"))
	assert.Equal(t, int64(3), sumOf(t, rm, "flowgraph.forkjoin.branches"))
	assert.NotNil(t, findMetric(rm, "flowgraph.forkjoin.latency_ms"))
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordNodeExecution(ctx, "n", time.Second, errors.New("x"))
		m.RecordGraphRun(ctx, true, time.Second)
		m.RecordCheckpoint(ctx, "n", 1)
		m.RecordForkJoin(ctx, "f", 2, time.Second, nil)
	})
}
