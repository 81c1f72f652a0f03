// Package embedding provides text embedding via pluggable providers
// (mock, OpenAI, Ollama, ONNX) with optional caching.
package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/chishiki/internal/models"
)

// Embedder produces vector embeddings for text. Implementations do not retry
// internally; callers own retry policy.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in order: result[i] corresponds to texts[i].
	// len(texts) must not exceed MaxBatchSize.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	MaxBatchSize() int
	Close() error
}

// embedConcurrency bounds parallel provider calls in EmbedAll.
const embedConcurrency = 4

// EmbedAll embeds any number of texts, splitting them into provider-sized
// batches and running up to embedConcurrency batches in parallel. Output
// order matches input order. On any batch failure the whole call fails.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := e.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = 32
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			embs, err := e.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(embs) != end-start {
				return fmt.Errorf("%w: batch returned %d embeddings for %d texts",
					models.ErrEmbedderUnavailable, len(embs), end-start)
			}
			copy(out[start:end], embs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
