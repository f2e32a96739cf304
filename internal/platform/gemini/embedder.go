package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/phrazzld/synthgen/internal/generation"
)

// Embedder turns text into vectors with Gemini's EmbedContent.
type Embedder struct {
	models modelsAPI
	model  string
}

// NewEmbedder creates an Embedder using the given embedding model.
func NewEmbedder(models modelsAPI, model string) (*Embedder, error) {
	if models == nil {
		return nil, fmt.Errorf("%w: gemini models client cannot be nil", generation.ErrInvalidConfig)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: embedding model cannot be empty", generation.ErrInvalidConfig)
	}
	return &Embedder{models: models, model: model}, nil
}

// Embed returns the embedding of text. Transient API failures wrap
// generation.ErrTransientFailure.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyPrompt
	}

	resp, err := e.models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, classifyError(err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", generation.ErrInvalidResponse)
	}

	return resp.Embeddings[0].Values, nil
}
