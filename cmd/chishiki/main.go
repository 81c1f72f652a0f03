// Package main is the Chishiki CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/chunker"
	"github.com/hyperjump/chishiki/internal/cli"
	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/internal/embedding"
	"github.com/hyperjump/chishiki/internal/indexer"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/retrieval"
	"github.com/hyperjump/chishiki/internal/server"
	"github.com/hyperjump/chishiki/internal/storage"
	"github.com/hyperjump/chishiki/internal/vector"
	"github.com/hyperjump/chishiki/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/chishiki/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "chishiki server" from the project dir uses the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("chishiki version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (pipeline stages, ingest events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// The memory index is not persistent; rebuild it from storage so the
	// server answers queries for everything ingested before the restart.
	if vector.IndexType(cfg.Index.Type) != vector.IndexTypeQdrant {
		if err := components.Indexer.LoadIndex(context.Background()); err != nil {
			logger.Fatal("Failed to rebuild vector index", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Pipeline,
		components.Indexer,
		components.VectorIndex,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	docID := fs.String("id", "", "document ID (generated when omitted)")
	metadata := fs.String("metadata", "", "comma-separated key=value pairs attached to every chunk")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: chishiki ingest [flags] <text-file>  (use - for stdin)")
		os.Exit(1)
	}
	path := fs.Arg(0)

	var text []byte
	var err error
	if path == "-" {
		text, err = io.ReadAll(os.Stdin)
	} else {
		text, err = os.ReadFile(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		os.Exit(1)
	}

	id := *docID
	if id == "" {
		id = uuid.New().String()
	}
	meta, err := parseMetadata(*metadata)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	req := &models.IngestRequest{DocumentID: id, Text: string(text), Metadata: meta}
	body, _ := json.Marshal(req)
	resp, err := http.Post(*serverURL+"/api/v1/documents", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Ingest failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out models.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document ingested: %s (%d chunks)\n", out.DocumentID, out.ChunksCreated)
}

// parseMetadata parses "key=value,key=value" into a metadata map. Values are
// kept as strings; the server only requires them to be scalar.
func parseMetadata(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	meta := make(map[string]interface{})
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata pair %q; expected key=value", pair)
		}
		meta[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return meta, nil
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryArgsReorder moves any flags (and their values) that appear after the
// question to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	maxResults := fs.Int("max-results", 5, "maximum number of results")
	filters := fs.String("filters", "", "comma-separated key=value metadata filters")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	_ = fs.Parse(queryArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: chishiki query [flags] <question>")
		os.Exit(1)
	}
	question := buildQuestion(fs.Args())
	if question == "" {
		fmt.Println("Usage: chishiki query [flags] <question>")
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	filterMap, err := parseMetadata(*filters)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	req := &models.QueryRequest{Question: question, MaxResults: *maxResults, Filters: filterMap}
	body, _ := json.Marshal(req)
	resp, err := http.Post(*serverURL+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Query failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var response models.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteQueryResults(os.Stdout, &response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: chishiki delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/documents/"+docID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

// statusConfigResponse holds configuration info returned by status.
type statusConfigResponse struct {
	IndexType           string `json:"index_type"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	ChunkTargetSize     int    `json:"chunk_target_size"`
	GateProvider        string `json:"gate_provider"`
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Documents       int64                 `json:"documents"`
	Chunks          int64                 `json:"chunks"`
	VectorIndexSize int                   `json:"vector_index_size"`
	Config          *statusConfigResponse `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("documents:          %d   # count of indexed documents\n", status.Documents)
		fmt.Printf("chunks:             %d   # count of stored chunks\n", status.Chunks)
		fmt.Printf("vector_index_size:  %d   # count of vectors in the index\n", status.VectorIndexSize)
		if status.Config != nil {
			fmt.Println()
			fmt.Println("# configuration")
			fmt.Printf("index_type:         %s\n", status.Config.IndexType)
			fmt.Printf("embedding_provider: %s\n", status.Config.EmbeddingProvider)
			if status.Config.EmbeddingDimensions > 0 {
				fmt.Printf("embedding_dims:     %d\n", status.Config.EmbeddingDimensions)
			}
			if status.Config.ChunkTargetSize > 0 {
				fmt.Printf("chunk_target_size:  %d\n", status.Config.ChunkTargetSize)
			}
			fmt.Printf("gate_provider:      %s\n", status.Config.GateProvider)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Storage
	Embedder    embedding.Embedder
	VectorIndex vector.VectorIndex
	Pipeline    *retrieval.Pipeline
	Indexer     *indexer.Indexer
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.NewEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	vectorIndex, err := vector.NewVectorIndex(ctx, cfg.Index, embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	ch := chunker.New(chunker.Config{
		TargetSize:      cfg.Chunking.TargetSize,
		OverlapFraction: cfg.Chunking.OverlapFraction,
		MinChunkTokens:  cfg.Chunking.MinChunkTokens,
		HardCeiling:     cfg.Chunking.HardCeiling,
		Boundaries:      chunker.ParseBoundaries(cfg.Chunking.Boundaries),
	})

	idx := indexer.NewIndexer(store, embedder, vectorIndex, ch, indexer.WithLogger(logger))

	gate, err := retrieval.NewGate(cfg.Retrieval.Gate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize relevance gate: %w", err)
	}
	pipeline, err := retrieval.NewPipeline(embedder, vectorIndex, gate, retrieval.Config{
		OverFetch:           cfg.Retrieval.OverFetch,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		RelevanceThreshold:  cfg.Retrieval.RelevanceThreshold,
		MinChunkTokens:      cfg.Retrieval.MinChunkTokens,
		SimilarityWeight:    cfg.Retrieval.SimilarityWeight,
		RelevanceWeight:     cfg.Retrieval.RelevanceWeight,
		EmbedRetries:        cfg.Retrieval.EmbedRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retrieval pipeline: %w", err)
	}

	return &Components{
		Storage:     store,
		Embedder:    embedder,
		VectorIndex: vectorIndex,
		Pipeline:    pipeline,
		Indexer:     idx,
	}, nil
}

func printUsage() {
	fmt.Println(`chishiki - Chunk, embed, index, and retrieve text over HTTP

Usage:
  chishiki server [flags]            Start the HTTP server
  chishiki ingest [flags] <file>     Ingest a text file (use - for stdin)
  chishiki query [flags] <question>  Retrieve relevant chunks
  chishiki delete [flags] <id>       Delete a document
  chishiki status [flags]            Show storage/index status
  chishiki version                   Show version
  chishiki help                      Show this help

Server Flags:
  --config string      Config file path (default: /usr/local/etc/chishiki/config.yaml)
  --debug              Enable debug logging (pipeline stages, ingest events, etc.)

Ingest Flags:
  --server string      Server URL (default: http://localhost:8080)
  --id string          Document ID; a UUID is generated when omitted
  --metadata string    Comma-separated key=value pairs attached to every chunk

Query Flags:
  --server string      Server URL (default: http://localhost:8080)
  --max-results int    Maximum number of results (default: 5)
  --filters string     Comma-separated key=value metadata filters
  --output string      Output format: text or json (default: text)

Delete Flags:
  --server string      Server URL (default: http://localhost:8080)

Status Flags:
  --server string      Server URL (default: http://localhost:8080)
  --output string      Output format: text or json (default: text)

Examples:
  chishiki server
  chishiki ingest --metadata lang=en,source=wiki document.txt
  chishiki ingest --id doc-123 document.txt
  chishiki query "how do neural networks learn"
  chishiki query --filters lang=en --max-results 10 "gradient descent"
  chishiki query --output json "query"   # structured JSON for other apps
  chishiki delete doc-123
  chishiki status
  chishiki status --output json`)
}
