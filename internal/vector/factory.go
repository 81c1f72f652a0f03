package vector

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hyperjump/chishiki/internal/config"
)

// IndexType selects the vector index backend.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Good for small
	// corpora (<100k vectors) and the default.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant uses an external Qdrant server over REST.
	IndexTypeQdrant IndexType = "qdrant"
)

// NewVectorIndex creates the vector index selected by cfg.Type.
func NewVectorIndex(ctx context.Context, cfg config.IndexConfig, dimensions int) (VectorIndex, error) {
	switch IndexType(cfg.Type) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeQdrant:
		apiKey := ""
		if cfg.Qdrant.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.Qdrant.APIKeyEnv)
		}
		return NewQdrantIndex(ctx, QdrantConfig{
			URL:        cfg.Qdrant.URL,
			APIKey:     apiKey,
			Collection: cfg.Qdrant.Collection,
			Dimensions: dimensions,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSec) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, qdrant)", cfg.Type)
	}
}
