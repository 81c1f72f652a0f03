package models

// ScoredChunk is an ephemeral retrieval candidate. CosineSimilarity comes
// from the vector index, RelevanceScore from the relevance gate, and
// FinalScore is the weighted combination used for the final ranking.
type ScoredChunk struct {
	Chunk            *Chunk  `json:"chunk"`
	CosineSimilarity float64 `json:"cosine_similarity"`
	RelevanceScore   float64 `json:"relevance_score"`
	FinalScore       float64 `json:"final_score"`
	// Rank is the position in the over-fetch result (0-based). It breaks
	// exact FinalScore ties so reranking stays deterministic.
	Rank int `json:"-"`
}
