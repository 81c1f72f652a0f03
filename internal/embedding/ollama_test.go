package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/chishiki/internal/models"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "test-model" {
			t.Errorf("model: got %s", req.Model)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 3})
	emb, err := e.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != 3 || emb[1] != float32(0.2) {
		t.Errorf("embedding: got %v", emb)
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL})
	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, models.ErrEmbedderUnavailable) {
		t.Errorf("expected embedder unavailable, got %v", err)
	}
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, models.ErrEmbedderUnavailable) {
		t.Errorf("expected embedder unavailable, got %v", err)
	}
}
