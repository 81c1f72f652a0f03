package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hyperjump/chishiki/internal/models"
)

func iv(doc string, idx int, emb ...float32) *models.IndexedVector {
	return &models.IndexedVector{
		Chunk: &models.Chunk{
			DocumentID: doc,
			ChunkIndex: idx,
			Content:    fmt.Sprintf("%s content %d", doc, idx),
		},
		Embedding: emb,
	}
}

func TestMemoryIndex_SearchOrdering(t *testing.T) {
	m, err := NewMemoryIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := m.Insert(ctx, "d1", []*models.IndexedVector{
		iv("d1", 0, 0.5, 0.866),
		iv("d1", 1, 1, 0),
		iv("d1", 2, 0.92, 0.392),
	}); err != nil {
		t.Fatal(err)
	}

	matches, err := m.Search(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Chunk.ChunkIndex != 1 || matches[1].Chunk.ChunkIndex != 2 || matches[2].Chunk.ChunkIndex != 0 {
		t.Errorf("order: %d, %d, %d",
			matches[0].Chunk.ChunkIndex, matches[1].Chunk.ChunkIndex, matches[2].Chunk.ChunkIndex)
	}
	if matches[0].Similarity < 0.999 {
		t.Errorf("top similarity: got %f", matches[0].Similarity)
	}
	if matches[1].Similarity < 0.91 || matches[1].Similarity > 0.93 {
		t.Errorf("second similarity: got %f", matches[1].Similarity)
	}
}

func TestMemoryIndex_TieBreakByRecency(t *testing.T) {
	m, _ := NewMemoryIndex(2)
	ctx := context.Background()
	m.Insert(ctx, "old", []*models.IndexedVector{iv("old", 0, 1, 0)})
	m.Insert(ctx, "new", []*models.IndexedVector{iv("new", 0, 1, 0)})

	matches, err := m.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Chunk.DocumentID != "new" || matches[1].Chunk.DocumentID != "old" {
		t.Errorf("tie order: %s, %s", matches[0].Chunk.DocumentID, matches[1].Chunk.DocumentID)
	}
}

func TestMemoryIndex_InsertReplacesDocument(t *testing.T) {
	m, _ := NewMemoryIndex(2)
	ctx := context.Background()
	m.Insert(ctx, "d1", []*models.IndexedVector{
		iv("d1", 0, 1, 0),
		iv("d1", 1, 0, 1),
	})
	m.Insert(ctx, "d2", []*models.IndexedVector{iv("d2", 0, 0.7, 0.7)})

	if err := m.Insert(ctx, "d1", []*models.IndexedVector{iv("d1", 0, 0, 1)}); err != nil {
		t.Fatal(err)
	}
	if m.Size() != 2 {
		t.Errorf("size after replace: got %d", m.Size())
	}
	matches, _ := m.Search(ctx, []float32{1, 0}, 10)
	for _, match := range matches {
		if match.Chunk.DocumentID == "d1" && match.Chunk.ChunkIndex == 1 {
			t.Error("stale chunk survived replacement")
		}
	}
}

func TestMemoryIndex_DeleteIdempotent(t *testing.T) {
	m, _ := NewMemoryIndex(2)
	ctx := context.Background()
	m.Insert(ctx, "d1", []*models.IndexedVector{iv("d1", 0, 1, 0)})

	if err := m.Delete(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "d1"); err != nil {
		t.Errorf("second delete should succeed: %v", err)
	}
	if err := m.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("deleting absent document should succeed: %v", err)
	}
	if m.Size() != 0 {
		t.Errorf("size: got %d", m.Size())
	}
}

func TestMemoryIndex_TopNLargerThanIndex(t *testing.T) {
	m, _ := NewMemoryIndex(2)
	ctx := context.Background()
	m.Insert(ctx, "d1", []*models.IndexedVector{iv("d1", 0, 1, 0)})

	matches, err := m.Search(ctx, []float32{1, 0}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches", len(matches))
	}
}

func TestMemoryIndex_EmptySearch(t *testing.T) {
	m, _ := NewMemoryIndex(2)
	matches, err := m.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil || matches != nil {
		t.Errorf("got %v, %v", matches, err)
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	m, _ := NewMemoryIndex(3)
	ctx := context.Background()

	err := m.Insert(ctx, "d1", []*models.IndexedVector{iv("d1", 0, 1, 0)})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("insert: expected invalid input, got %v", err)
	}
	_, err = m.Search(ctx, []float32{1, 0}, 5)
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("search: expected invalid input, got %v", err)
	}
}

func TestMemoryIndex_ReplacementIsAtomic(t *testing.T) {
	m, _ := NewMemoryIndex(2)
	ctx := context.Background()
	vectors := []*models.IndexedVector{
		iv("d1", 0, 1, 0),
		iv("d1", 1, 0.9, 0.1),
		iv("d1", 2, 0.8, 0.2),
	}
	if err := m.Insert(ctx, "d1", vectors); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				m.Insert(ctx, "d1", vectors)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		matches, err := m.Search(ctx, []float32{1, 0}, 10)
		if err != nil {
			t.Fatal(err)
		}
		// Replacement must never expose a partial document.
		if len(matches) != 3 {
			t.Fatalf("observed partial replacement: %d matches", len(matches))
		}
	}
	close(done)
	wg.Wait()
}
