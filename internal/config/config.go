// Package config provides configuration loading and structs for the Chishiki server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the chunk store path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig holds embedding provider settings. Provider selects the
// implementation: mock, openai, ollama, or onnx.
type EmbeddingConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	APIKeyEnv    string `yaml:"api_key_env"`
	ModelPath    string `yaml:"model_path"` // onnx only
	Dimensions   int    `yaml:"dimensions"`
	MaxTokens    int    `yaml:"max_tokens"`
	MaxBatchSize int    `yaml:"max_batch_size"`
	CacheSize    int    `yaml:"cache_size"`
}

// ChunkingConfig holds text segmentation settings. Sizes are in tokens.
type ChunkingConfig struct {
	TargetSize      int      `yaml:"target_size"`
	OverlapFraction float64  `yaml:"overlap_fraction"`
	MinChunkTokens  int      `yaml:"min_chunk_tokens"`
	HardCeiling     int      `yaml:"hard_ceiling"`
	Boundaries      []string `yaml:"boundaries"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Type   string       `yaml:"type"` // memory (default) or qdrant
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds connection settings for a Qdrant backend.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Collection string `yaml:"collection"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// RetrievalConfig holds the query pipeline settings.
type RetrievalConfig struct {
	OverFetch           int        `yaml:"over_fetch"`
	SimilarityThreshold float64    `yaml:"similarity_threshold"`
	RelevanceThreshold  float64    `yaml:"relevance_threshold"`
	MinChunkTokens      int        `yaml:"min_chunk_tokens"`
	SimilarityWeight    float64    `yaml:"similarity_weight"`
	RelevanceWeight     float64    `yaml:"relevance_weight"`
	EmbedRetries        uint64     `yaml:"embed_retries"`
	Gate                GateConfig `yaml:"gate"`
}

// GateConfig selects the relevance gate: none, keyword, or llm.
type GateConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// Load reads and parses the config file at path, applies defaults, and
// expands storage paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
