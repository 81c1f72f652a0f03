package models

import "errors"

// Error kinds for the ingestion and query paths. Wrapped with %w so callers
// can classify failures with errors.Is.
var (
	// ErrInvalidInput marks malformed requests (empty document_id, dimension
	// mismatch, non-scalar metadata). Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmbedderUnavailable marks a transient failure calling the embedding
	// model. Callers retry with bounded backoff; after exhaustion the request
	// fails without partial writes.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")
	// ErrIndexUnavailable marks an unreachable vector index backing store.
	// Fatal for the current request.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)
