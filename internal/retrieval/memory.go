package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/randalmurphal/triage/internal/support"
)

// MemoryIndex keeps passages in process and ranks them by cosine
// similarity. Intended for local runs and tests.
type MemoryIndex struct {
	embedder Embedder
	topK     int

	mu      sync.RWMutex
	entries []memoryEntry
}

type memoryEntry struct {
	doc support.Doc
	vec []float32
}

// NewMemoryIndex creates an empty index. topK <= 0 uses DefaultTopK.
func NewMemoryIndex(embedder Embedder, topK int) *MemoryIndex {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &MemoryIndex{embedder: embedder, topK: topK}
}

// Add embeds and stores one passage.
func (m *MemoryIndex) Add(ctx context.Context, doc support.Doc) error {
	vec, err := m.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("retrieval: embed passage: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, memoryEntry{doc: doc, vec: vec.Slice()})
	return nil
}

// Len returns the number of stored passages.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Retrieve implements support.Retriever.
func (m *MemoryIndex) Retrieve(ctx context.Context, query string) ([]support.Doc, error) {
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	return m.nearest(vec), nil
}

func (m *MemoryIndex) nearest(query pgvector.Vector) []support.Doc {
	q := query.Slice()

	m.mu.RLock()
	type scored struct {
		doc   support.Doc
		score float64
		pos   int
	}
	ranked := make([]scored, len(m.entries))
	for i, e := range m.entries {
		ranked[i] = scored{doc: e.doc, score: cosine(q, e.vec), pos: i}
	}
	m.mu.RUnlock()

	// Ties keep insertion order.
	slices.SortFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})

	n := min(m.topK, len(ranked))
	docs := make([]support.Doc, n)
	for i := range n {
		docs[i] = ranked[i].doc
	}
	return docs
}

// cosine returns the cosine similarity of a and b, or 0 when either is
// zero or their lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
