package retrieval

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/pkg/utils"
)

const llmGateSystemPrompt = "You judge whether a passage is relevant to a question. " +
	"Answer with exactly one word: yes or no."

// llmGateMaxChunkChars bounds the passage sent to the model.
const llmGateMaxChunkChars = 2000

// LLMGate asks a chat model a yes/no relevance question per chunk and maps
// the answer to 1.0 or 0.0.
type LLMGate struct {
	client openai.Client
	model  string
}

// NewLLMGate creates an LLM-backed relevance gate. The API key is read from
// the environment variable named by cfg.APIKeyEnv.
func NewLLMGate(cfg config.GateConfig) (*LLMGate, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", keyEnv)
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLMGate{
		client: openai.NewClient(option.WithAPIKey(key)),
		model:  model,
	}, nil
}

func (g *LLMGate) Name() string { return "llm" }

// Score returns 1.0 when the model answers yes, 0.0 otherwise.
func (g *LLMGate) Score(ctx context.Context, question, chunkText string) (float64, error) {
	prompt := fmt.Sprintf("Question: %s\n\nPassage:\n%s\n\nIs the passage relevant to the question?",
		question, utils.Truncate(chunkText, llmGateMaxChunkChars))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(llmGateSystemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: llm gate: %v", models.ErrEmbedderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("%w: llm gate returned no choices", models.ErrEmbedderUnavailable)
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	if strings.HasPrefix(answer, "yes") {
		return 1.0, nil
	}
	return 0.0, nil
}
