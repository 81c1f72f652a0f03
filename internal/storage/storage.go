// Package storage defines the persistence interface for chunks and their
// embeddings.
package storage

import (
	"context"

	"github.com/hyperjump/chishiki/internal/models"
)

// Storage persists chunks with their embeddings. It is the durable source of
// truth the vector index is rebuilt from at startup.
type Storage interface {
	// ReplaceDocument atomically replaces all stored chunks for documentID
	// with vectors. An empty vectors slice removes the document.
	ReplaceDocument(ctx context.Context, documentID string, vectors []*models.IndexedVector) error

	// GetChunksByDocumentID returns the document's chunks ordered by chunk
	// index, without embeddings loaded into the result.
	GetChunksByDocumentID(ctx context.Context, documentID string) ([]*models.Chunk, error)

	// DeleteDocument removes all chunks for documentID. Absent documents
	// delete cleanly.
	DeleteDocument(ctx context.Context, documentID string) error

	// ListAllVectors streams every stored chunk with its embedding in
	// insertion order, for rebuilding the vector index.
	ListAllVectors(ctx context.Context) ([]*models.IndexedVector, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
