package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hyperjump/chishiki/internal/models"
)

// fakeQdrant records requests against a minimal slice of the REST API.
type fakeQdrant struct {
	mu       sync.Mutex
	requests []string
	hits     []map[string]any
}

func (f *fakeQdrant) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()

		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{"points_count": 2},
			})
		case r.URL.Path == "/collections/test/points/search":
			json.NewEncoder(w).Encode(map[string]any{"result": f.hits})
		default:
			json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		}
	}
}

func newTestQdrant(t *testing.T, f *fakeQdrant) (*QdrantIndex, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	q, err := NewQdrantIndex(context.Background(), QdrantConfig{
		URL:        srv.URL,
		Collection: "test",
		Dimensions: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	return q, srv
}

func TestQdrantIndex_InsertDeletesThenUpserts(t *testing.T) {
	f := &fakeQdrant{}
	q, _ := newTestQdrant(t, f)

	err := q.Insert(context.Background(), "d1", []*models.IndexedVector{iv("d1", 0, 1, 0)})
	if err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var gotDelete, gotUpsert bool
	for _, req := range f.requests {
		if req == "POST /collections/test/points/delete" {
			gotDelete = true
		}
		if req == "PUT /collections/test/points" && !gotDelete {
			t.Error("upsert issued before delete")
		}
		if req == "PUT /collections/test/points" {
			gotUpsert = true
		}
	}
	if !gotDelete || !gotUpsert {
		t.Errorf("requests: %v", f.requests)
	}
}

func TestQdrantIndex_SearchParsesPayload(t *testing.T) {
	f := &fakeQdrant{
		hits: []map[string]any{
			{
				"score": 0.91,
				"payload": map[string]any{
					"document_id": "d1",
					"chunk_index": float64(2),
					"content":     "hello",
					"token_count": float64(5),
					"metadata":    map[string]any{"lang": "en"},
				},
			},
		},
	}
	q, _ := newTestQdrant(t, f)

	matches, err := q.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches", len(matches))
	}
	m := matches[0]
	if m.Similarity != 0.91 || m.Chunk.DocumentID != "d1" || m.Chunk.ChunkIndex != 2 {
		t.Errorf("match: %+v %+v", m.Similarity, m.Chunk)
	}
	if m.Chunk.Metadata["lang"] != "en" {
		t.Errorf("metadata: %v", m.Chunk.Metadata)
	}
}

func TestQdrantIndex_Unreachable(t *testing.T) {
	_, err := NewQdrantIndex(context.Background(), QdrantConfig{
		URL:        "http://127.0.0.1:1",
		Collection: "test",
		Dimensions: 2,
	})
	if !errors.Is(err, models.ErrIndexUnavailable) {
		t.Errorf("expected index unavailable, got %v", err)
	}
}

func TestQdrantIndex_DimensionMismatch(t *testing.T) {
	f := &fakeQdrant{}
	q, _ := newTestQdrant(t, f)

	_, err := q.Search(context.Background(), []float32{1, 0, 0}, 5)
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestPointID_Stable(t *testing.T) {
	c := &models.Chunk{DocumentID: "d1", ChunkIndex: 3}
	if pointID(c) != pointID(c) {
		t.Error("point id not deterministic")
	}
	other := &models.Chunk{DocumentID: "d1", ChunkIndex: 4}
	if pointID(c) == pointID(other) {
		t.Error("distinct chunks share a point id")
	}
}
