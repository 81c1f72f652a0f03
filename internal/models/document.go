// Package models defines core data structures for documents, chunks, and retrieval results.
package models

import (
	"fmt"
	"time"
)

// Document is the unit of ingestion: caller-assigned ID, extracted text, and
// scalar metadata. Re-ingesting the same ID replaces all of its chunks.
type Document struct {
	ID       string                 `json:"document_id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk is a bounded text segment of a document, the unit of embedding and
// retrieval. Its identity is (DocumentID, ChunkIndex); ChunkIndex values are
// contiguous from 0 within a document.
type Chunk struct {
	DocumentID string                 `json:"document_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	TokenCount int                    `json:"token_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at,omitempty"`
}

// Key returns the chunk identity as "document_id:chunk_index".
func (c *Chunk) Key() string {
	return fmt.Sprintf("%s:%d", c.DocumentID, c.ChunkIndex)
}

// IndexedVector is a chunk embedding stored in the vector index, with the
// chunk content and metadata denormalized alongside it.
type IndexedVector struct {
	Chunk     *Chunk    `json:"chunk"`
	Embedding []float32 `json:"-"`
}
