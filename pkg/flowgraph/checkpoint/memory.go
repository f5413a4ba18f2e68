package checkpoint

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory.
// Used by tests and the CLI's "memory" backend; data is lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memThread
	closed  bool
}

type memThread struct {
	lastSeq int
	entries map[string]memEntry
}

type memEntry struct {
	data      []byte
	sequence  int
	timestamp time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*memThread)}
}

// Save implements Store.
func (m *MemoryStore) Save(threadID, nodeID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	t, ok := m.threads[threadID]
	if !ok {
		t = &memThread{entries: make(map[string]memEntry)}
		m.threads[threadID] = t
	}
	t.lastSeq++
	t.entries[nodeID] = memEntry{
		data:      slices.Clone(data),
		sequence:  t.lastSeq,
		timestamp: time.Now().UTC(),
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(threadID, nodeID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	t, ok := m.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := t.entries[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(e.data), nil
}

// List implements Store.
func (m *MemoryStore) List(threadID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	t, ok := m.threads[threadID]
	if !ok {
		return []Info{}, nil
	}

	infos := make([]Info, 0, len(t.entries))
	for nodeID, e := range t.entries {
		infos = append(infos, Info{
			ThreadID:  threadID,
			NodeID:    nodeID,
			Sequence:  e.sequence,
			Timestamp: e.timestamp,
			Size:      int64(len(e.data)),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Sequence < infos[j].Sequence })
	return infos, nil
}

// Threads implements Store.
func (m *MemoryStore) Threads() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]string, 0, len(m.threads))
	for id, t := range m.threads {
		if len(t.entries) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(threadID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if t, ok := m.threads[threadID]; ok {
		delete(t.entries, nodeID)
	}
	return nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.threads, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	return nil
}

// Len returns the number of checkpoints across all threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.threads {
		n += len(t.entries)
	}
	return n
}
