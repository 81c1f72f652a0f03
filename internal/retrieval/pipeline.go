package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/chishiki/internal/embedding"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/vector"
)

// Stage transforms an ordered candidate list. Stages only remove or reorder
// candidates; they never fabricate new ones.
type Stage func(ctx context.Context, candidates []*models.ScoredChunk) ([]*models.ScoredChunk, error)

// gateConcurrency bounds parallel gate calls per query.
const gateConcurrency = 4

// Config holds the pipeline tuning knobs.
type Config struct {
	// OverFetch is how many candidates to pull from the index before
	// filtering. Raised to MaxResults when a request asks for more.
	OverFetch int
	// SimilarityThreshold drops candidates below this cosine similarity.
	SimilarityThreshold float64
	// RelevanceThreshold drops candidates the gate scores below this.
	RelevanceThreshold float64
	// MinChunkTokens drops structurally useless (too short) chunks.
	MinChunkTokens int
	// Boilerplate, when set, drops any chunk it returns true for (e.g.
	// navigation or footer heuristics supplied by the caller).
	Boilerplate func(*models.Chunk) bool
	// SimilarityWeight and RelevanceWeight combine the two scores into the
	// final ranking score. They must sum to 1.
	SimilarityWeight float64
	RelevanceWeight  float64
	// EmbedRetries is how many times a transient query-embedding failure is
	// retried with exponential backoff before the query fails.
	EmbedRetries uint64
}

// Pipeline executes retrieval: embed the question, over-fetch from the
// index, then filter and rerank.
type Pipeline struct {
	embedder embedding.Embedder
	index    vector.VectorIndex
	gate     RelevanceGate
	cfg      Config
	logger   *zap.Logger
}

// NewPipeline validates cfg and assembles a pipeline. A nil gate disables
// gating (NoneGate).
func NewPipeline(embedder embedding.Embedder, index vector.VectorIndex, gate RelevanceGate, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if math.Abs(cfg.SimilarityWeight+cfg.RelevanceWeight-1.0) > 1e-9 {
		return nil, fmt.Errorf("similarity and relevance weights must sum to 1, got %f and %f",
			cfg.SimilarityWeight, cfg.RelevanceWeight)
	}
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = 40
	}
	if gate == nil {
		gate = NoneGate{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		embedder: embedder,
		index:    index,
		gate:     gate,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Query runs the full pipeline for req. An empty result list is a valid
// outcome, not an error.
func (p *Pipeline) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	queryVec, err := p.embedQuery(ctx, req.Question)
	if err != nil {
		return nil, err
	}

	overFetch := p.cfg.OverFetch
	if req.MaxResults > overFetch {
		overFetch = req.MaxResults
	}
	matches, err := p.index.Search(ctx, queryVec, overFetch)
	if err != nil {
		return nil, err
	}

	candidates := make([]*models.ScoredChunk, len(matches))
	for i, m := range matches {
		candidates[i] = &models.ScoredChunk{
			Chunk:            m.Chunk,
			CosineSimilarity: m.Similarity,
			Rank:             i,
		}
	}

	stages := []struct {
		name  string
		stage Stage
	}{
		{"threshold", ThresholdStage(p.cfg.SimilarityThreshold)},
		{"structural", StructuralStage(p.cfg.MinChunkTokens, p.cfg.Boilerplate, req.Filters)},
		{"gate", GateStage(p.gate, req.Question, p.cfg.RelevanceThreshold)},
		{"rerank", RerankStage(p.cfg.SimilarityWeight, p.cfg.RelevanceWeight)},
		{"truncate", TruncateStage(req.MaxResults)},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := len(candidates)
		candidates, err = s.stage(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", s.name, err)
		}
		p.logger.Debug("pipeline stage",
			zap.String("stage", s.name),
			zap.Int("in", before),
			zap.Int("out", len(candidates)))
		if len(candidates) == 0 {
			break
		}
	}

	results := make([]*models.QueryResult, len(candidates))
	for i, c := range candidates {
		results[i] = &models.QueryResult{
			DocumentID: c.Chunk.DocumentID,
			ChunkIndex: c.Chunk.ChunkIndex,
			Content:    c.Chunk.Content,
			Score:      c.FinalScore,
			Metadata:   c.Chunk.Metadata,
		}
	}
	return &models.QueryResponse{
		Query:     req.Question,
		Results:   results,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// embedQuery embeds the question, retrying transient failures with
// exponential backoff. Invalid input is never retried.
func (p *Pipeline) embedQuery(ctx context.Context, question string) ([]float32, error) {
	var vec []float32
	op := func() error {
		var err error
		vec, err = p.embedder.Embed(ctx, question)
		if err != nil {
			if errors.Is(err, models.ErrInvalidInput) {
				return backoff.Permanent(err)
			}
			p.logger.Warn("query embedding attempt failed", zap.Error(err))
			return err
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.EmbedRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return vec, nil
}

// ThresholdStage drops candidates whose cosine similarity is below threshold.
func ThresholdStage(threshold float64) Stage {
	return func(_ context.Context, candidates []*models.ScoredChunk) ([]*models.ScoredChunk, error) {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.CosineSimilarity >= threshold {
				kept = append(kept, c)
			}
		}
		return kept, nil
	}
}

// StructuralStage drops chunks below minTokens, chunks flagged by the
// boilerplate predicate, and chunks whose metadata does not match every
// filter key exactly. A nil predicate is a no-op.
func StructuralStage(minTokens int, boilerplate func(*models.Chunk) bool, filters map[string]interface{}) Stage {
	return func(_ context.Context, candidates []*models.ScoredChunk) ([]*models.ScoredChunk, error) {
		kept := candidates[:0]
	next:
		for _, c := range candidates {
			if c.Chunk.TokenCount < minTokens {
				continue
			}
			if boilerplate != nil && boilerplate(c.Chunk) {
				continue
			}
			for k, want := range filters {
				got, ok := c.Chunk.Metadata[k]
				if !ok || !models.ScalarEqual(got, want) {
					continue next
				}
			}
			kept = append(kept, c)
		}
		return kept, nil
	}
}

// GateStage scores each candidate with the relevance gate and drops those
// below threshold. Gate calls run in parallel; candidate order is preserved.
func GateStage(gate RelevanceGate, question string, threshold float64) Stage {
	return func(ctx context.Context, candidates []*models.ScoredChunk) ([]*models.ScoredChunk, error) {
		if len(candidates) == 0 {
			return candidates, nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(gateConcurrency)
		for _, c := range candidates {
			c := c
			g.Go(func() error {
				score, err := gate.Score(gctx, question, c.Chunk.Content)
				if err != nil {
					return err
				}
				c.RelevanceScore = score
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		kept := candidates[:0]
		for _, c := range candidates {
			if c.RelevanceScore >= threshold {
				kept = append(kept, c)
			}
		}
		return kept, nil
	}
}

// RerankStage computes the weighted final score and sorts by it, highest
// first. Exact ties keep over-fetch order (more similar, then more recent).
func RerankStage(similarityWeight, relevanceWeight float64) Stage {
	return func(_ context.Context, candidates []*models.ScoredChunk) ([]*models.ScoredChunk, error) {
		for _, c := range candidates {
			c.FinalScore = similarityWeight*c.CosineSimilarity + relevanceWeight*c.RelevanceScore
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].FinalScore != candidates[j].FinalScore {
				return candidates[i].FinalScore > candidates[j].FinalScore
			}
			return candidates[i].Rank < candidates[j].Rank
		})
		return candidates, nil
	}
}

// TruncateStage keeps the first n candidates.
func TruncateStage(n int) Stage {
	return func(_ context.Context, candidates []*models.ScoredChunk) ([]*models.ScoredChunk, error) {
		if n >= 0 && len(candidates) > n {
			candidates = candidates[:n]
		}
		return candidates, nil
	}
}
