package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/vector"
)

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, nil
}

func (f *fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int   { return len(f.vec) }
func (f *fixedEmbedder) MaxBatchSize() int { return 32 }
func (f *fixedEmbedder) Close() error      { return nil }

// flakyEmbedder fails the first failures calls with err, then returns vec.
type flakyEmbedder struct {
	vec      []float32
	failures int32
	err      error
	attempts atomic.Int32
}

func (f *flakyEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.attempts.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *flakyEmbedder) Dimensions() int   { return len(f.vec) }
func (f *flakyEmbedder) MaxBatchSize() int { return 32 }
func (f *flakyEmbedder) Close() error      { return nil }

// mapGate scores chunks by content lookup; unknown content scores def.
type mapGate struct {
	scores map[string]float64
	def    float64
	err    error
}

func (g *mapGate) Name() string { return "map" }

func (g *mapGate) Score(_ context.Context, _, chunkText string) (float64, error) {
	if g.err != nil {
		return 0, g.err
	}
	if s, ok := g.scores[chunkText]; ok {
		return s, nil
	}
	return g.def, nil
}

func testChunk(doc string, idx int, content string, meta map[string]any) *models.Chunk {
	return &models.Chunk{
		DocumentID: doc,
		ChunkIndex: idx,
		Content:    content,
		TokenCount: 30,
		Metadata:   meta,
	}
}

func newTestIndex(t *testing.T, vectors ...*models.IndexedVector) vector.VectorIndex {
	t.Helper()
	idx, err := vector.NewMemoryIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	byDoc := make(map[string][]*models.IndexedVector)
	var order []string
	for _, v := range vectors {
		if _, seen := byDoc[v.Chunk.DocumentID]; !seen {
			order = append(order, v.Chunk.DocumentID)
		}
		byDoc[v.Chunk.DocumentID] = append(byDoc[v.Chunk.DocumentID], v)
	}
	for _, doc := range order {
		if err := idx.Insert(context.Background(), doc, byDoc[doc]); err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func newTestPipeline(t *testing.T, idx vector.VectorIndex, gate RelevanceGate, cfg Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(&fixedEmbedder{vec: []float32{1, 0}}, idx, gate, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPipeline_SimilarityThresholdAndScore(t *testing.T) {
	idx := newTestIndex(t,
		&models.IndexedVector{
			Chunk:     testChunk("d1", 0, "relevant passage", nil),
			Embedding: []float32{0.92, float32(math.Sqrt(1 - 0.92*0.92))},
		},
		&models.IndexedVector{
			Chunk:     testChunk("d2", 0, "barely related", nil),
			Embedding: []float32{0.5, 0.866},
		},
	)
	p := newTestPipeline(t, idx, NoneGate{}, Config{
		OverFetch:           40,
		SimilarityThreshold: 0.75,
		SimilarityWeight:    1.0,
		RelevanceWeight:     0.0,
	})

	resp, err := p.Query(context.Background(), &models.QueryRequest{Question: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results", len(resp.Results))
	}
	r := resp.Results[0]
	if r.DocumentID != "d1" || r.Content != "relevant passage" {
		t.Errorf("result: %+v", r)
	}
	if math.Abs(r.Score-0.92) > 0.005 {
		t.Errorf("score: got %f, want ~0.92", r.Score)
	}
}

func TestPipeline_GateRejectsAllIsEmptyNotError(t *testing.T) {
	idx := newTestIndex(t, &models.IndexedVector{
		Chunk:     testChunk("d1", 0, "high similarity, zero relevance", nil),
		Embedding: []float32{1, 0},
	})
	p := newTestPipeline(t, idx, &mapGate{def: 0}, Config{
		SimilarityThreshold: 0.75,
		RelevanceThreshold:  0.6,
		SimilarityWeight:    0.4,
		RelevanceWeight:     0.6,
	})

	resp, err := p.Query(context.Background(), &models.QueryRequest{Question: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("expected empty results, got %v", resp.Results)
	}
}

func TestPipeline_WeightedRerank(t *testing.T) {
	idx := newTestIndex(t,
		&models.IndexedVector{
			Chunk:     testChunk("similar", 0, "very similar text", nil),
			Embedding: []float32{0.9, float32(math.Sqrt(1 - 0.9*0.9))},
		},
		&models.IndexedVector{
			Chunk:     testChunk("relevant", 0, "very relevant text", nil),
			Embedding: []float32{0.8, 0.6},
		},
	)
	gate := &mapGate{scores: map[string]float64{
		"very similar text":  0.2,
		"very relevant text": 0.9,
	}}
	p := newTestPipeline(t, idx, gate, Config{
		SimilarityThreshold: 0.75,
		RelevanceThreshold:  0.1,
		SimilarityWeight:    0.4,
		RelevanceWeight:     0.6,
	})

	resp, err := p.Query(context.Background(), &models.QueryRequest{Question: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results", len(resp.Results))
	}
	// 0.4*0.8 + 0.6*0.9 = 0.86 beats 0.4*0.9 + 0.6*0.2 = 0.48.
	if resp.Results[0].DocumentID != "relevant" {
		t.Errorf("order: %s, %s", resp.Results[0].DocumentID, resp.Results[1].DocumentID)
	}
	if math.Abs(resp.Results[0].Score-0.86) > 0.01 {
		t.Errorf("top score: got %f", resp.Results[0].Score)
	}
	if resp.Results[0].Score <= resp.Results[1].Score {
		t.Error("results not in descending final score order")
	}
}

func TestPipeline_MaxResultsTruncates(t *testing.T) {
	var vectors []*models.IndexedVector
	for i := 0; i < 10; i++ {
		x := 0.99 - 0.01*float64(i)
		vectors = append(vectors, &models.IndexedVector{
			Chunk:     testChunk(fmt.Sprintf("d%d", i), 0, fmt.Sprintf("chunk %d", i), nil),
			Embedding: []float32{float32(x), float32(math.Sqrt(1 - x*x))},
		})
	}
	p := newTestPipeline(t, newTestIndex(t, vectors...), NoneGate{}, Config{
		SimilarityThreshold: 0.75,
		SimilarityWeight:    1.0,
		RelevanceWeight:     0.0,
	})

	resp, err := p.Query(context.Background(), &models.QueryRequest{Question: "q", MaxResults: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results", len(resp.Results))
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i].Score > resp.Results[i-1].Score {
			t.Error("results not sorted by score")
		}
	}
	if resp.Results[0].DocumentID != "d0" {
		t.Errorf("top result: %s", resp.Results[0].DocumentID)
	}
}

func TestPipeline_MetadataFilter(t *testing.T) {
	idx := newTestIndex(t,
		&models.IndexedVector{
			Chunk:     testChunk("en-doc", 0, "english text", map[string]any{"lang": "en"}),
			Embedding: []float32{1, 0},
		},
		&models.IndexedVector{
			Chunk:     testChunk("fr-doc", 0, "texte francais", map[string]any{"lang": "fr"}),
			Embedding: []float32{1, 0},
		},
	)
	p := newTestPipeline(t, idx, NoneGate{}, Config{
		SimilarityThreshold: 0.75,
		SimilarityWeight:    1.0,
		RelevanceWeight:     0.0,
	})

	resp, err := p.Query(context.Background(), &models.QueryRequest{
		Question: "q",
		Filters:  map[string]any{"lang": "en"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocumentID != "en-doc" {
		t.Errorf("results: %+v", resp.Results)
	}
}

func TestPipeline_MinChunkTokensFilter(t *testing.T) {
	tiny := testChunk("tiny", 0, "too short", nil)
	tiny.TokenCount = 2
	idx := newTestIndex(t,
		&models.IndexedVector{Chunk: tiny, Embedding: []float32{1, 0}},
		&models.IndexedVector{Chunk: testChunk("ok", 0, "long enough chunk", nil), Embedding: []float32{1, 0}},
	)
	p := newTestPipeline(t, idx, NoneGate{}, Config{
		SimilarityThreshold: 0.75,
		MinChunkTokens:      20,
		SimilarityWeight:    1.0,
		RelevanceWeight:     0.0,
	})

	resp, err := p.Query(context.Background(), &models.QueryRequest{Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocumentID != "ok" {
		t.Errorf("results: %+v", resp.Results)
	}
}

func TestPipeline_BoilerplatePredicate(t *testing.T) {
	idx := newTestIndex(t,
		&models.IndexedVector{
			Chunk:     testChunk("nav", 0, "home | products | contact", nil),
			Embedding: []float32{1, 0},
		},
		&models.IndexedVector{
			Chunk:     testChunk("body", 0, "actual article content", nil),
			Embedding: []float32{1, 0},
		},
	)
	p := newTestPipeline(t, idx, NoneGate{}, Config{
		SimilarityThreshold: 0.75,
		SimilarityWeight:    1.0,
		RelevanceWeight:     0.0,
		Boilerplate: func(c *models.Chunk) bool {
			return strings.Contains(c.Content, "|")
		},
	})

	resp, err := p.Query(context.Background(), &models.QueryRequest{Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocumentID != "body" {
		t.Errorf("results: %+v", resp.Results)
	}
}

func TestPipeline_EmptyQuestion(t *testing.T) {
	p := newTestPipeline(t, newTestIndex(t), NoneGate{}, Config{
		SimilarityWeight: 1.0,
	})
	_, err := p.Query(context.Background(), &models.QueryRequest{Question: ""})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestPipeline_GateErrorPropagates(t *testing.T) {
	idx := newTestIndex(t, &models.IndexedVector{
		Chunk:     testChunk("d1", 0, "text", nil),
		Embedding: []float32{1, 0},
	})
	gateErr := fmt.Errorf("%w: model down", models.ErrEmbedderUnavailable)
	p := newTestPipeline(t, idx, &mapGate{err: gateErr}, Config{
		SimilarityThreshold: 0.5,
		SimilarityWeight:    0.4,
		RelevanceWeight:     0.6,
	})

	_, err := p.Query(context.Background(), &models.QueryRequest{Question: "q"})
	if !errors.Is(err, models.ErrEmbedderUnavailable) {
		t.Errorf("expected embedder unavailable, got %v", err)
	}
}

func TestPipeline_RetriesTransientEmbedFailures(t *testing.T) {
	idx := newTestIndex(t, &models.IndexedVector{
		Chunk:     testChunk("d1", 0, "text", nil),
		Embedding: []float32{1, 0},
	})
	emb := &flakyEmbedder{
		vec:      []float32{1, 0},
		failures: 1,
		err:      fmt.Errorf("%w: provider down", models.ErrEmbedderUnavailable),
	}
	p, err := NewPipeline(emb, idx, NoneGate{}, Config{
		SimilarityThreshold: 0.75,
		SimilarityWeight:    1.0,
		RelevanceWeight:     0.0,
		EmbedRetries:        1,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Query(context.Background(), &models.QueryRequest{Question: "q"})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("got %d results", len(resp.Results))
	}
	if got := emb.attempts.Load(); got != 2 {
		t.Errorf("embed attempts: got %d, want 2", got)
	}
}

func TestPipeline_InvalidInputEmbedFailureNotRetried(t *testing.T) {
	emb := &flakyEmbedder{
		vec:      []float32{1, 0},
		failures: 5,
		err:      fmt.Errorf("%w: text too long", models.ErrInvalidInput),
	}
	p, err := NewPipeline(emb, newTestIndex(t), NoneGate{}, Config{
		SimilarityWeight: 1.0,
		EmbedRetries:     3,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Query(context.Background(), &models.QueryRequest{Question: "q"})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got := emb.attempts.Load(); got != 1 {
		t.Errorf("embed attempts: got %d, want 1", got)
	}
}

// cancelGate cancels the request context from inside its score call.
type cancelGate struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (g *cancelGate) Name() string { return "cancel" }

func (g *cancelGate) Score(_ context.Context, _, _ string) (float64, error) {
	g.calls.Add(1)
	g.cancel()
	return 1.0, nil
}

func TestPipeline_CancelledBetweenStages(t *testing.T) {
	idx := newTestIndex(t, &models.IndexedVector{
		Chunk:     testChunk("d1", 0, "text", nil),
		Embedding: []float32{1, 0},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gate := &cancelGate{cancel: cancel}
	p := newTestPipeline(t, idx, gate, Config{
		SimilarityThreshold: 0.5,
		RelevanceThreshold:  0.6,
		SimilarityWeight:    0.4,
		RelevanceWeight:     0.6,
	})

	resp, err := p.Query(ctx, &models.QueryRequest{Question: "q"})
	// The gate passed its candidate, so the error can only come from the
	// cancellation check before the next stage: it must be the bare ctx.Err(),
	// not a stage-wrapped failure.
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if resp != nil {
		t.Errorf("expected nil response, got %+v", resp)
	}
	if got := gate.calls.Load(); got != 1 {
		t.Errorf("gate calls: got %d, want 1", got)
	}
}

func TestNewPipeline_RejectsBadWeights(t *testing.T) {
	_, err := NewPipeline(&fixedEmbedder{vec: []float32{1, 0}}, nil, nil,
		Config{SimilarityWeight: 0.5, RelevanceWeight: 0.3}, nil)
	if err == nil {
		t.Error("expected error for weights not summing to 1")
	}
}

func TestPipeline_TieBreakKeepsOverFetchOrder(t *testing.T) {
	idx := newTestIndex(t,
		&models.IndexedVector{Chunk: testChunk("older", 0, "same text", nil), Embedding: []float32{1, 0}},
		&models.IndexedVector{Chunk: testChunk("newer", 0, "same text", nil), Embedding: []float32{1, 0}},
	)
	p := newTestPipeline(t, idx, NoneGate{}, Config{
		SimilarityThreshold: 0.75,
		SimilarityWeight:    0.4,
		RelevanceWeight:     0.6,
	})

	resp, err := p.Query(context.Background(), &models.QueryRequest{Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results", len(resp.Results))
	}
	// Identical final scores: the index put the newer insertion first and
	// the rerank must not reorder the tie.
	if resp.Results[0].DocumentID != "newer" {
		t.Errorf("tie order: %s, %s", resp.Results[0].DocumentID, resp.Results[1].DocumentID)
	}
}
