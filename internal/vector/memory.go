package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/chishiki/internal/models"
)

// MemoryIndex is an in-memory brute-force index. Mutations build a new
// immutable snapshot under a mutex and publish it with an atomic pointer, so
// searches never block on inserts and always see a consistent whole-document
// view.
type MemoryIndex struct {
	dimensions int
	mu         sync.Mutex // serializes mutations
	snap       atomic.Pointer[snapshot]
	seq        uint64 // monotonically increasing insertion counter
}

type entry struct {
	vec  *models.IndexedVector
	norm float64
	seq  uint64
}

type snapshot struct {
	entries []entry
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	m := &MemoryIndex{dimensions: dimensions}
	m.snap.Store(&snapshot{})
	return m, nil
}

// Insert atomically replaces all vectors for documentID with vectors.
// An empty vectors slice leaves the document absent.
func (m *MemoryIndex) Insert(ctx context.Context, documentID string, vectors []*models.IndexedVector) error {
	if documentID == "" {
		return fmt.Errorf("%w: empty document id", models.ErrInvalidInput)
	}
	for _, v := range vectors {
		if len(v.Embedding) != m.dimensions {
			return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d",
				models.ErrInvalidInput, len(v.Embedding), m.dimensions)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snap.Load()
	next := make([]entry, 0, len(old.entries)+len(vectors))
	for _, e := range old.entries {
		if e.vec.Chunk.DocumentID != documentID {
			next = append(next, e)
		}
	}
	for _, v := range vectors {
		m.seq++
		next = append(next, entry{vec: v, norm: L2Norm(v.Embedding), seq: m.seq})
	}
	m.snap.Store(&snapshot{entries: next})
	return nil
}

// Delete removes all vectors for documentID. Deleting an absent document
// succeeds.
func (m *MemoryIndex) Delete(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snap.Load()
	next := make([]entry, 0, len(old.entries))
	for _, e := range old.entries {
		if e.vec.Chunk.DocumentID != documentID {
			next = append(next, e)
		}
	}
	m.snap.Store(&snapshot{entries: next})
	return nil
}

// Search returns up to topN matches by exact cosine similarity, most similar
// first. Ties order by insertion recency, newest first. An empty index
// returns no matches.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, topN int) ([]*Match, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d",
			models.ErrInvalidInput, len(query), m.dimensions)
	}
	if topN <= 0 {
		return nil, nil
	}

	snap := m.snap.Load()
	if len(snap.entries) == 0 {
		return nil, nil
	}

	qnorm := L2Norm(query)
	type scored struct {
		e   entry
		sim float64
	}
	scores := make([]scored, len(snap.entries))
	for i, e := range snap.entries {
		var dot float64
		for j := 0; j < m.dimensions; j++ {
			dot += float64(query[j]) * float64(e.vec.Embedding[j])
		}
		sim := 0.0
		if qnorm > 0 && e.norm > 0 {
			sim = math.Max(-1, math.Min(1, dot/(qnorm*e.norm)))
		}
		scores[i] = scored{e: e, sim: sim}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].sim != scores[j].sim {
			return scores[i].sim > scores[j].sim
		}
		return scores[i].e.seq > scores[j].e.seq
	})

	if topN > len(scores) {
		topN = len(scores)
	}
	matches := make([]*Match, topN)
	for i := 0; i < topN; i++ {
		matches[i] = &Match{Chunk: scores[i].e.vec.Chunk, Similarity: scores[i].sim}
	}
	return matches, nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	return len(m.snap.Load().entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
