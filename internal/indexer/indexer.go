// Package indexer orchestrates ingestion: preprocess, chunk, embed, persist,
// and publish to the vector index.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/chunker"
	"github.com/hyperjump/chishiki/internal/embedding"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/storage"
	"github.com/hyperjump/chishiki/internal/vector"
)

// Indexer ingests documents and keeps storage and the vector index in sync.
// Storage is written before the index so the index can always be rebuilt.
type Indexer struct {
	storage    storage.Storage
	embedder   embedding.Embedder
	index      vector.VectorIndex
	chunker    *chunker.Chunker
	logger     *zap.Logger
	maxRetries uint64
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for ingest events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithMaxRetries sets how many times a failed embedding call is retried
// with exponential backoff before the ingestion fails.
func WithMaxRetries(n uint64) IndexerOption {
	return func(idx *Indexer) { idx.maxRetries = n }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	index vector.VectorIndex,
	ch *chunker.Chunker,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:    store,
		embedder:   embedder,
		index:      index,
		chunker:    ch,
		logger:     zap.NewNop(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IngestDocument chunks, embeds, persists, and indexes a document, replacing
// any previous version of the same document ID as one unit. It returns the
// number of chunks created. Empty text replaces the document with nothing.
//
// Nothing is written until embedding succeeds, so a failed ingestion leaves
// the previously indexed version untouched.
func (idx *Indexer) IngestDocument(ctx context.Context, req *models.IngestRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	text := Preprocess(req.Text)
	chunks := idx.chunker.Chunk(req.DocumentID, text)
	for _, ch := range chunks {
		ch.Metadata = req.Metadata
	}

	if len(chunks) == 0 {
		if err := idx.storage.ReplaceDocument(ctx, req.DocumentID, nil); err != nil {
			return 0, fmt.Errorf("failed to clear document: %w", err)
		}
		if err := idx.index.Delete(ctx, req.DocumentID); err != nil {
			return 0, err
		}
		idx.logger.Info("document replaced with empty text",
			zap.String("document_id", req.DocumentID))
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	embeddings, err := idx.embedWithRetry(ctx, texts)
	if err != nil {
		return 0, err
	}

	dims := idx.embedder.Dimensions()
	vectors := make([]*models.IndexedVector, len(chunks))
	for i, ch := range chunks {
		if len(embeddings[i]) != dims {
			return 0, fmt.Errorf("%w: embedding dimension mismatch: got %d, expected %d",
				models.ErrEmbedderUnavailable, len(embeddings[i]), dims)
		}
		vectors[i] = &models.IndexedVector{Chunk: ch, Embedding: embeddings[i]}
	}

	if err := idx.storage.ReplaceDocument(ctx, req.DocumentID, vectors); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := idx.index.Insert(ctx, req.DocumentID, vectors); err != nil {
		return 0, err
	}

	idx.logger.Info("document ingested",
		zap.String("document_id", req.DocumentID),
		zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// embedWithRetry embeds all texts, retrying transient failures with
// exponential backoff. Invalid input is never retried.
func (idx *Indexer) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32
	op := func() error {
		var err error
		embeddings, err = embedding.EmbedAll(ctx, idx.embedder, texts)
		if err != nil {
			if errors.Is(err, models.ErrInvalidInput) {
				return backoff.Permanent(err)
			}
			idx.logger.Warn("embedding attempt failed", zap.Error(err))
			return err
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), idx.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return embeddings, nil
}

// DeleteDocument removes a document from storage and the index. Deleting an
// absent document succeeds.
func (idx *Indexer) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document_id is required", models.ErrInvalidInput)
	}
	if err := idx.storage.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := idx.index.Delete(ctx, documentID); err != nil {
		return err
	}
	idx.logger.Info("document deleted", zap.String("document_id", documentID))
	return nil
}

// GetDocumentChunks returns the stored chunks for a document in index order.
func (idx *Indexer) GetDocumentChunks(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document_id is required", models.ErrInvalidInput)
	}
	return idx.storage.GetChunksByDocumentID(ctx, documentID)
}

// LoadIndex rebuilds the vector index from storage. Called at startup when
// the index backend is not persistent.
func (idx *Indexer) LoadIndex(ctx context.Context) error {
	vectors, err := idx.storage.ListAllVectors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load vectors: %w", err)
	}

	byDoc := make(map[string][]*models.IndexedVector)
	var order []string
	for _, v := range vectors {
		if _, seen := byDoc[v.Chunk.DocumentID]; !seen {
			order = append(order, v.Chunk.DocumentID)
		}
		byDoc[v.Chunk.DocumentID] = append(byDoc[v.Chunk.DocumentID], v)
	}
	for _, docID := range order {
		if err := idx.index.Insert(ctx, docID, byDoc[docID]); err != nil {
			return fmt.Errorf("failed to index document %s: %w", docID, err)
		}
	}

	idx.logger.Info("vector index loaded",
		zap.Int("documents", len(order)),
		zap.Int("vectors", len(vectors)))
	return nil
}

// Stats returns document and chunk counts from storage.
func (idx *Indexer) Stats(ctx context.Context) (documents, chunks int64, err error) {
	documents, err = idx.storage.CountDocuments(ctx)
	if err != nil {
		return 0, 0, err
	}
	chunks, err = idx.storage.CountChunks(ctx)
	if err != nil {
		return 0, 0, err
	}
	return documents, chunks, nil
}
