package embedding

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/config"
)

// NewEmbedder builds the embedder selected by cfg.Provider and wraps it with
// an LRU cache when cfg.CacheSize is positive.
func NewEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var inner Embedder

	switch cfg.Provider {
	case "", "mock":
		inner = NewMockEmbedder(cfg.Dimensions)
	case "openai":
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			APIKeyEnv:  cfg.APIKeyEnv,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.MaxBatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		inner = e
	case "ollama":
		inner = NewOllamaEmbedder(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    30 * time.Second,
			Dimensions: cfg.Dimensions,
		})
	case "onnx":
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	logger.Info("embedder initialized",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", inner.Dimensions()),
		zap.Int("cache_size", cfg.CacheSize))

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
	return inner, nil
}
