package models

import "fmt"

// IngestRequest is the payload sent by the upstream extraction service.
type IngestRequest struct {
	DocumentID string                 `json:"document_id"`
	Text       string                 `json:"text"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Validate rejects requests that must never reach chunking or indexing:
// an empty document ID or metadata with non-scalar values.
func (r *IngestRequest) Validate() error {
	if r.DocumentID == "" {
		return fmt.Errorf("%w: document_id is required", ErrInvalidInput)
	}
	if err := validateMetadata(r.Metadata); err != nil {
		return err
	}
	return nil
}

// IngestResponse reports how many chunks an ingestion produced.
type IngestResponse struct {
	DocumentID    string `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
}

// QueryRequest is a retrieval request. Filters match chunk metadata exactly
// and are applied in the structural-filter stage.
type QueryRequest struct {
	Question   string                 `json:"question"`
	MaxResults int                    `json:"max_results,omitempty"`
	Filters    map[string]interface{} `json:"filters,omitempty"`
}

// Validate ensures the question is present, normalizes MaxResults, and
// rejects non-scalar filter values.
func (q *QueryRequest) Validate() error {
	if q.Question == "" {
		return fmt.Errorf("%w: question cannot be empty", ErrInvalidInput)
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 5
	}
	if q.MaxResults > 50 {
		q.MaxResults = 50
	}
	if err := validateMetadata(q.Filters); err != nil {
		return err
	}
	return nil
}

// QueryResult is one retrieved passage in a query response.
type QueryResult struct {
	DocumentID string                 `json:"document_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// QueryResponse is the response for a retrieval request. Results is empty
// (never nil in JSON) when no chunk survives filtering; that is a valid
// outcome, not an error.
type QueryResponse struct {
	Query     string         `json:"query"`
	Results   []*QueryResult `json:"results"`
	QueryTime int64          `json:"query_time_ms"`
}

// DeleteResponse acknowledges a document deletion.
type DeleteResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// validateMetadata ensures all values are scalars (string, bool, or number).
// JSON decoding yields float64 for numbers; int variants cover values built
// in Go code and tests.
func validateMetadata(m map[string]interface{}) error {
	for k, v := range m {
		switch v.(type) {
		case string, bool, float64, float32, int, int32, int64, nil:
		default:
			return fmt.Errorf("%w: metadata key %q has non-scalar value (%T)", ErrInvalidInput, k, v)
		}
	}
	return nil
}

// ScalarEqual compares two scalar metadata values, treating all numeric
// types as float64 so that filters decoded from JSON match values stored
// from Go code.
func ScalarEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
