package flowgraph

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/triage/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/triage/pkg/flowgraph/observability"
)

const (
	// DefaultMaxIterations is the node execution limit applied to every run.
	DefaultMaxIterations = 1000

	// MaxIterationsLimit is the largest value WithMaxIterations accepts.
	MaxIterationsLimit = 100000
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int

	checkpointStore        checkpoint.Store
	threadID               string
	runID                  string
	checkpointFailureFatal bool
	sequence               int
	inputMerge             any

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 1000. Panics if n <= 0 or n > MaxIterationsLimit.
func WithMaxIterations(n int) RunOption {
	if n <= 0 {
		panic("flowgraph: max iterations must be > 0")
	}
	if n > MaxIterationsLimit {
		panic(fmt.Sprintf("flowgraph: max iterations exceeds limit (%d)", MaxIterationsLimit))
	}
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithCheckpointing persists a checkpoint after every main-line step.
// Requires WithThreadID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithThreadID sets the conversation key checkpoints are stored under.
// When checkpointing is enabled, the latest snapshot for the thread is
// loaded before the run and the input is folded over it.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithInputMerge sets how the run's input is folded over the thread's
// latest snapshot. By default the graph's reducer is used, which keeps
// snapshot fields the input leaves zero. S must match the graph's state
// type; a mismatch fails the run with ErrInputMergeType.
func WithInputMerge[S any](fn func(prev, input S) S) RunOption {
	return func(c *runConfig) {
		c.inputMerge = fn
	}
}

// WithRunID overrides the context's run identifier for logs and spans.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithCheckpointFailureFatal makes a failed checkpoint save abort the run.
// By default the failure is logged and execution continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithObservabilityLogger enables run and node lifecycle logging.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics using the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans using the global tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}
