// Package observability holds the logging, metrics and tracing hooks the
// graph executor calls. Every hook is opt-in: a nil logger, NoopMetrics
// and NoopSpanManager turn the corresponding signal off.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run and thread identifiers to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "conversation-1")
//	enriched.Info("answering") // includes run_id and thread_id
func EnrichLogger(logger *slog.Logger, runID, threadID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	logger = logger.With(slog.String("run_id", runID))
	if threadID != "" {
		logger = logger.With(slog.String("thread_id", threadID))
	}
	return logger
}

// LogRunStart logs the start of a graph run.
func LogRunStart(logger *slog.Logger, runID, threadID string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("run_id", runID),
		slog.String("thread_id", threadID),
	)
}

// LogRunComplete logs successful graph run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs graph run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting", slog.String("node_id", nodeID))
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogForkJoin logs the completion of a fan-out, after every branch finished.
func LogForkJoin(logger *slog.Logger, forkNodeID, joinNodeID string, branches int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("fork/join completed",
		slog.String("fork_node", forkNodeID),
		slog.String("join_node", joinNodeID),
		slog.Int("branches", branches),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBranchError logs a failed parallel branch.
func LogBranchError(logger *slog.Logger, forkNodeID, branchID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("branch failed",
		slog.String("fork_node", forkNodeID),
		slog.String("branch_id", branchID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, nodeID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a checkpoint failure that did not abort the run.
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation returns a function reporting the elapsed milliseconds.
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
