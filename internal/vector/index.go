// Package vector provides vector index backends and similarity search.
package vector

import (
	"context"

	"github.com/hyperjump/chishiki/internal/models"
)

// Match is a single similarity search hit.
type Match struct {
	Chunk      *models.Chunk
	Similarity float64
}

// VectorIndex stores chunk embeddings keyed by document and serves
// similarity search.
//
// Insert replaces all vectors for a document as one atomic unit: a search
// observes either the old set or the new set, never a mix. Delete is
// idempotent. Search returns the topN most similar chunks by exact cosine
// similarity, most similar first; equal similarities order by insertion
// recency, newest first.
type VectorIndex interface {
	Insert(ctx context.Context, documentID string, vectors []*models.IndexedVector) error
	Delete(ctx context.Context, documentID string) error
	Search(ctx context.Context, query []float32, topN int) ([]*Match, error)
	Size() int
	Close() error
}
