package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records executor metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordGraphRun records a graph run completion.
	RecordGraphRun(ctx context.Context, success bool, duration time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)

	// RecordForkJoin records a completed fan-out and how many branches it ran.
	RecordForkJoin(ctx context.Context, forkNodeID string, branches int, duration time.Duration, err error)
}

type otelMetrics struct {
	nodeExecutions  metric.Int64Counter
	nodeLatency     metric.Float64Histogram
	nodeErrors      metric.Int64Counter
	graphRuns       metric.Int64Counter
	graphLatency    metric.Float64Histogram
	checkpointSize  metric.Int64Histogram
	forkJoins       metric.Int64Counter
	forkJoinLatency metric.Float64Histogram
	branches        metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("flowgraph"))
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	var (
		m   otelMetrics
		err error
	)
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err == nil {
			*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		}
	}
	latency := func(dst *metric.Float64Histogram, name, desc string) {
		if err == nil {
			*dst, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		}
	}

	counter(&m.nodeExecutions, "flowgraph.node.executions", "Number of node executions")
	latency(&m.nodeLatency, "flowgraph.node.latency_ms", "Node execution latency in milliseconds")
	counter(&m.nodeErrors, "flowgraph.node.errors", "Number of node execution errors")
	counter(&m.graphRuns, "flowgraph.graph.runs", "Number of graph runs")
	latency(&m.graphLatency, "flowgraph.graph.latency_ms", "Graph run latency in milliseconds")
	counter(&m.forkJoins, "flowgraph.forkjoin.runs", "Number of completed fan-outs")
	latency(&m.forkJoinLatency, "flowgraph.forkjoin.latency_ms", "Fan-out latency until the last branch finished")
	counter(&m.branches, "flowgraph.forkjoin.branches", "Number of parallel branches executed")
	if err == nil {
		m.checkpointSize, err = meter.Int64Histogram("flowgraph.checkpoint.size_bytes",
			metric.WithDescription("Checkpoint size in bytes"),
			metric.WithUnit("By"),
		)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. Falls back to a no-op recorder if instruments can't be
// created. Set the provider (otel.SetMeterProvider) before the first call.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordGraphRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.graphRuns.Add(ctx, 1, attrs)
	m.graphLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

func (m *otelMetrics) RecordForkJoin(ctx context.Context, forkNodeID string, branches int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("fork_node", forkNodeID),
		attribute.Bool("success", err == nil),
	)
	m.forkJoins.Add(ctx, 1, attrs)
	m.forkJoinLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.branches.Add(ctx, int64(branches), attrs)
}
