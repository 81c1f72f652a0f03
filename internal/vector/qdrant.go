package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/chishiki/internal/models"
)

// QdrantIndex is a minimal REST client to a Qdrant collection using cosine
// distance. Point IDs are deterministic UUIDs derived from the chunk key, so
// re-upserting a chunk overwrites its previous point.
//
// Insert is delete-then-upsert across two REST calls, so a concurrent Search
// can briefly observe the document as absent. It never observes a mixed
// old/new vector set; full per-document atomicity needs MemoryIndex.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	dimensions int
	client     *http.Client
}

// QdrantConfig holds connection settings for a Qdrant backend.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimensions int
	Timeout    time.Duration
}

// NewQdrantIndex creates the index and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "chishiki_chunks"
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	q := &QdrantIndex{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	status, err := q.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", q.collection), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimensions,
			"distance": "Cosine",
		},
	}
	status, err = q.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collection), body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: create collection failed with status %d", models.ErrIndexUnavailable, status)
	}
	return nil
}

// pointID derives a stable UUID for a chunk; Qdrant only accepts UUID or
// unsigned integer point IDs.
func pointID(c *models.Chunk) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.Key())).String()
}

// Insert replaces the document's points: delete by document_id filter, then
// upsert the new points, both with wait=true so the replacement is visible
// on return.
func (q *QdrantIndex) Insert(ctx context.Context, documentID string, vectors []*models.IndexedVector) error {
	if documentID == "" {
		return fmt.Errorf("%w: empty document id", models.ErrInvalidInput)
	}
	for _, v := range vectors {
		if len(v.Embedding) != q.dimensions {
			return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d",
				models.ErrInvalidInput, len(v.Embedding), q.dimensions)
		}
	}
	if err := q.Delete(ctx, documentID); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	points := make([]map[string]any, len(vectors))
	for i, v := range vectors {
		points[i] = map[string]any{
			"id":     pointID(v.Chunk),
			"vector": v.Embedding,
			"payload": map[string]any{
				"document_id": v.Chunk.DocumentID,
				"chunk_index": v.Chunk.ChunkIndex,
				"content":     v.Chunk.Content,
				"token_count": v.Chunk.TokenCount,
				"metadata":    v.Chunk.Metadata,
			},
		}
	}
	body := map[string]any{"points": points}
	status, err := q.do(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", q.collection), body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: upsert failed with status %d", models.ErrIndexUnavailable, status)
	}
	return nil
}

// Delete removes all points for documentID. Absent documents delete cleanly.
func (q *QdrantIndex) Delete(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	status, err := q.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collection), body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: delete failed with status %d", models.ErrIndexUnavailable, status)
	}
	return nil
}

// Search runs a cosine similarity query and rebuilds chunks from payloads.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, topN int) ([]*Match, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d",
			models.ErrInvalidInput, len(query), q.dimensions)
	}
	if topN <= 0 {
		return nil, nil
	}

	body := map[string]any{
		"vector":       query,
		"limit":        topN,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	status, err := q.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", q.collection), body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("%w: search failed with status %d", models.ErrIndexUnavailable, status)
	}

	matches := make([]*Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		chunk := &models.Chunk{}
		if v, ok := r.Payload["document_id"].(string); ok {
			chunk.DocumentID = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			chunk.ChunkIndex = int(v)
		}
		if v, ok := r.Payload["content"].(string); ok {
			chunk.Content = v
		}
		if v, ok := r.Payload["token_count"].(float64); ok {
			chunk.TokenCount = int(v)
		}
		if v, ok := r.Payload["metadata"].(map[string]any); ok {
			chunk.Metadata = v
		}
		matches = append(matches, &Match{Chunk: chunk, Similarity: r.Score})
	}
	return matches, nil
}

// Size returns the collection point count, or 0 if it cannot be read.
func (q *QdrantIndex) Size() int {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := q.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", q.collection), nil, &resp)
	if err != nil || status >= 300 {
		return 0
	}
	return resp.Result.PointsCount
}

// Close is a no-op; the HTTP client needs no cleanup.
func (q *QdrantIndex) Close() error {
	return nil
}

// do issues one JSON request and decodes the response into out when non-nil.
func (q *QdrantIndex) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant %s %s: %v", models.ErrIndexUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %v", models.ErrIndexUnavailable, err)
		}
	}
	return resp.StatusCode, nil
}
