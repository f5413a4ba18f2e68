// Package checkpoint stores per-thread snapshots of graph state so a
// conversation can continue across runs and an interrupted run can resume.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists checkpoints keyed by thread.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores the snapshot taken after nodeID ran on a thread.
	// A later save for the same (threadID, nodeID) replaces the earlier one
	// and receives the thread's next sequence number.
	Save(threadID, nodeID string, data []byte) error

	// Load retrieves the snapshot saved after nodeID.
	// Returns ErrNotFound if it doesn't exist.
	Load(threadID, nodeID string) ([]byte, error)

	// List returns the thread's checkpoints ordered by sequence.
	// Returns an empty slice (not an error) for an unknown thread.
	List(threadID string) ([]Info, error)

	// Threads returns every thread with at least one checkpoint, sorted.
	Threads() ([]string, error)

	// Delete removes a single checkpoint. Missing checkpoints are not an error.
	Delete(threadID, nodeID string) error

	// DeleteThread removes every checkpoint of a thread.
	DeleteThread(threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info describes a stored checkpoint without its payload.
type Info struct {
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

// Latest loads and decodes the most recent checkpoint of a thread.
// Returns ErrNotFound when the thread has none.
func Latest(store Store, threadID string) (*Checkpoint, error) {
	infos, err := store.List(threadID)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNotFound
	}

	data, err := store.Load(threadID, infos[len(infos)-1].NodeID)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
