package langchain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/phrazzld/synthgen/internal/generation"
)

// Provider names as registered in generation.Registry.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Ollama    = "ollama"
)

// Provider implements generation.Provider over a langchaingo model.
type Provider struct {
	name   string
	llm    llms.Model
	logger *slog.Logger
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider wraps an existing langchaingo model under name.
func NewProvider(name string, llm llms.Model, logger *slog.Logger) (*Provider, error) {
	if name == "" || llm == nil {
		return nil, fmt.Errorf("%w: provider name and model are required", generation.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{name: name, llm: llm, logger: logger.With("provider", name)}, nil
}

// NewOpenAIProvider creates a provider backed by the OpenAI chat API.
func NewOpenAIProvider(apiKey, model string, logger *slog.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key required", generation.ErrInvalidConfig)
	}
	llm, err := openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return NewProvider(OpenAI, llm, logger)
}

// NewAnthropicProvider creates a provider backed by the Anthropic messages API.
func NewAnthropicProvider(apiKey, model string, logger *slog.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Anthropic API key required", generation.ErrInvalidConfig)
	}
	llm, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return NewProvider(Anthropic, llm, logger)
}

// NewOllamaProvider creates a provider backed by a local Ollama server.
func NewOllamaProvider(serverURL, model string, logger *slog.Logger) (*Provider, error) {
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return NewProvider(Ollama, llm, logger)
}

// Name implements generation.Provider.
func (p *Provider) Name() string {
	return p.name
}

// Generate implements generation.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, opts generation.Options) (string, error) {
	var callOpts []llms.CallOption
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt, callOpts...)
	if err != nil {
		p.logger.DebugContext(ctx, "generate failed", "error", err)
		return "", classifyError(p.name, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: %s returned no text", generation.ErrInvalidResponse, p.name)
	}
	return text, nil
}
