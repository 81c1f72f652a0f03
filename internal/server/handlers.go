package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/models"
)

// statusFromError maps the error taxonomy to HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEmbedderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrIndexUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ingest request",
		zap.String("document_id", req.DocumentID),
		zap.Int("text_len", len(req.Text)))

	n, err := s.indexer.IngestDocument(r.Context(), &req)
	if err != nil {
		s.logger.Error("ingestion failed",
			zap.String("document_id", req.DocumentID), zap.Error(err))
		s.respondError(w, statusFromError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, &models.IngestResponse{
		DocumentID:    req.DocumentID,
		ChunksCreated: n,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request",
		zap.String("question", req.Question),
		zap.Int("max_results", req.MaxResults))

	resp, err := s.pipeline.Query(r.Context(), &req)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, statusFromError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chunks, err := s.indexer.GetDocumentChunks(r.Context(), id)
	if err != nil {
		s.logger.Error("get document failed", zap.String("document_id", id), zap.Error(err))
		s.respondError(w, statusFromError(err), err.Error())
		return
	}
	if len(chunks) == 0 {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": id,
		"chunks":      chunks,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("document_id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.String("document_id", id), zap.Error(err))
		s.respondError(w, statusFromError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, &models.DeleteResponse{
		DocumentID: id,
		Status:     "deleted",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	docCount, chunkCount, err := s.indexer.Stats(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents":         docCount,
		"chunks":            chunkCount,
		"vector_index_size": s.index.Size(),
		"config": map[string]interface{}{
			"index_type":           s.config.Index.Type,
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"chunk_target_size":    s.config.Chunking.TargetSize,
			"gate_provider":        s.config.Retrieval.Gate.Provider,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
