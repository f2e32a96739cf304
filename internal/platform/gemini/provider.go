package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/phrazzld/synthgen/internal/generation"
)

// Name is the registry name of the Gemini provider.
const Name = "gemini"

// Provider implements generation.Provider using Gemini's GenerateContent.
type Provider struct {
	models       modelsAPI
	defaultModel string
	logger       *slog.Logger
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider creates a Provider. defaultModel is used when a call does not
// name a model.
func NewProvider(models modelsAPI, defaultModel string, logger *slog.Logger) (*Provider, error) {
	if models == nil {
		return nil, fmt.Errorf("%w: gemini models client cannot be nil", generation.ErrInvalidConfig)
	}
	if defaultModel == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		models:       models,
		defaultModel: defaultModel,
		logger:       logger.With("provider", Name),
	}, nil
}

// Name implements generation.Provider.
func (p *Provider) Name() string {
	return Name
}

// Generate implements generation.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, opts generation.Options) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	resp, err := p.models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		p.logger.DebugContext(ctx, "Gemini API call failed", "model", model, "error", err)
		return "", classifyError(err)
	}

	return extractText(resp)
}

// extractText validates a response and concatenates the first candidate's text parts.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}

	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: response has no text parts", generation.ErrInvalidResponse)
	}
	return sb.String(), nil
}
