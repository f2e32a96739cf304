package langchain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/phrazzld/synthgen/internal/generation"
)

// Embedder wraps langchaingo embeddings with dimension validation.
type Embedder struct {
	name      string
	model     embeddings.Embedder
	dimension int
}

// NewEmbedder wraps an existing langchaingo embedder. A dimension of zero
// disables the length check.
func NewEmbedder(name string, model embeddings.Embedder, dimension int) *Embedder {
	return &Embedder{name: name, model: model, dimension: dimension}
}

// NewOpenAIEmbedder creates an embedder using an OpenAI embedding model.
func NewOpenAIEmbedder(apiKey, model string, dimension int) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key required", generation.ErrInvalidConfig)
	}
	llm, err := openai.New(openai.WithToken(apiKey), openai.WithEmbeddingModel(model))
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	e, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}
	return NewEmbedder(OpenAI, e, dimension), nil
}

// NewOllamaEmbedder creates an embedder using a local Ollama model.
func NewOllamaEmbedder(serverURL, model string, dimension int) (*Embedder, error) {
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	e, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return NewEmbedder(Ollama, e, dimension), nil
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := e.model.EmbedQuery(ctx, text)
	if err != nil {
		slog.DebugContext(ctx, "embedding failed",
			"provider", e.name,
			"text_len", len(text),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return nil, classifyError(e.name, err)
	}

	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: %s returned no embedding", generation.ErrInvalidResponse, e.name)
	}
	if e.dimension > 0 && len(vector) != e.dimension {
		return nil, fmt.Errorf("%w: dimension mismatch: got %d, want %d",
			generation.ErrInvalidResponse, len(vector), e.dimension)
	}
	return vector, nil
}
