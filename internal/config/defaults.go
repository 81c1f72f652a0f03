package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/chishiki/data/chunks.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.MaxBatchSize == 0 {
		cfg.Embedding.MaxBatchSize = 32
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Chunking.TargetSize == 0 {
		cfg.Chunking.TargetSize = 300
	}
	if cfg.Chunking.OverlapFraction == 0 {
		cfg.Chunking.OverlapFraction = 0.15
	}
	if cfg.Chunking.MinChunkTokens == 0 {
		cfg.Chunking.MinChunkTokens = 20
	}
	if cfg.Chunking.HardCeiling == 0 {
		cfg.Chunking.HardCeiling = 2 * cfg.Chunking.TargetSize
	}
	if cfg.Chunking.Boundaries == nil {
		cfg.Chunking.Boundaries = []string{"paragraph", "heading", "sentence"}
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	if cfg.Index.Qdrant.Collection == "" {
		cfg.Index.Qdrant.Collection = "chishiki_chunks"
	}
	if cfg.Index.Qdrant.TimeoutSec == 0 {
		cfg.Index.Qdrant.TimeoutSec = 15
	}
	if cfg.Retrieval.OverFetch == 0 {
		cfg.Retrieval.OverFetch = 40
	}
	if cfg.Retrieval.SimilarityThreshold == 0 {
		cfg.Retrieval.SimilarityThreshold = 0.75
	}
	if cfg.Retrieval.RelevanceThreshold == 0 {
		cfg.Retrieval.RelevanceThreshold = 0.6
	}
	if cfg.Retrieval.MinChunkTokens == 0 {
		cfg.Retrieval.MinChunkTokens = cfg.Chunking.MinChunkTokens
	}
	if cfg.Retrieval.SimilarityWeight == 0 && cfg.Retrieval.RelevanceWeight == 0 {
		cfg.Retrieval.SimilarityWeight = 0.4
		cfg.Retrieval.RelevanceWeight = 0.6
	}
	if cfg.Retrieval.EmbedRetries == 0 {
		cfg.Retrieval.EmbedRetries = 3
	}
	if cfg.Retrieval.Gate.Provider == "" {
		cfg.Retrieval.Gate.Provider = "keyword"
	}
	if cfg.Retrieval.Gate.APIKeyEnv == "" {
		cfg.Retrieval.Gate.APIKeyEnv = "OPENAI_API_KEY"
	}
}
