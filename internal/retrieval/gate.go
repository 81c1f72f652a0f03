// Package retrieval implements the staged query pipeline: embed, over-fetch,
// threshold, structural filter, relevance gate, weighted rerank, truncate.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/pkg/utils"
)

// RelevanceGate scores how relevant a chunk is to a question on [0, 1].
type RelevanceGate interface {
	Score(ctx context.Context, question, chunkText string) (float64, error)
	Name() string
}

// NoneGate passes every chunk with full relevance. Used when gating is
// disabled; the rerank then orders purely by similarity weight.
type NoneGate struct{}

func (NoneGate) Score(_ context.Context, _, _ string) (float64, error) { return 1.0, nil }
func (NoneGate) Name() string                                          { return "none" }

// KeywordGate scores a chunk by the fraction of distinct question tokens
// that appear in it. Cheap, deterministic, and needs no model backend.
type KeywordGate struct{}

func (KeywordGate) Name() string { return "keyword" }

func (KeywordGate) Score(_ context.Context, question, chunkText string) (float64, error) {
	queryTokens := gateTokens(question)
	if len(queryTokens) == 0 {
		return 0, nil
	}
	chunkTokens := make(map[string]bool)
	for _, tok := range utils.SplitWords(chunkText) {
		chunkTokens[normalizeToken(tok)] = true
	}
	hits := 0
	for tok := range queryTokens {
		if chunkTokens[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens)), nil
}

func gateTokens(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range utils.SplitWords(text) {
		if t := normalizeToken(tok); t != "" {
			set[t] = true
		}
	}
	return set
}

func normalizeToken(tok string) string {
	return strings.Trim(strings.ToLower(tok), `.,;:!?"'()[]`)
}

// NewGate builds the relevance gate selected by cfg.Provider.
func NewGate(cfg config.GateConfig) (RelevanceGate, error) {
	switch cfg.Provider {
	case "none":
		return NoneGate{}, nil
	case "", "keyword":
		return KeywordGate{}, nil
	case "llm":
		return NewLLMGate(cfg)
	default:
		return nil, fmt.Errorf("unknown gate provider: %s", cfg.Provider)
	}
}
