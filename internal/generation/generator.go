package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
)

// Generator turns source records into samples using the registered providers.
type Generator struct {
	providers *Registry
	prompts   *PromptBuilder
	retry     RetryPolicy
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewGenerator creates a Generator. A zero timeout leaves calls bounded only
// by the caller's context.
func NewGenerator(
	providers *Registry,
	prompts *PromptBuilder,
	retry RetryPolicy,
	timeout time.Duration,
	logger *slog.Logger,
) (*Generator, error) {
	if providers == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("provider registry cannot be nil"))
	}
	if prompts == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("prompt builder cannot be nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{
		providers: providers,
		prompts:   prompts,
		retry:     retry,
		timeout:   timeout,
		logger:    logger.With("component", "generator"),
		now:       time.Now,
	}, nil
}

// GenerateSamples synthesizes samples for one record.
//
// Failures specific to the record are returned as *RecordError: the provider
// rejected or blocked the prompt, the response was malformed, or transient
// failures outlived the retry budget. Context cancellation is returned as is.
func (g *Generator) GenerateSamples(
	ctx context.Context,
	taskID uuid.UUID,
	record domain.Record,
	cfg domain.GenerationConfig,
) ([]domain.Sample, error) {
	provider, err := g.providers.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	prompt, err := g.prompts.Build(record, cfg.SamplesPerRecord)
	if err != nil {
		return nil, &RecordError{RecordID: record.ID, Err: err}
	}

	opts := Options{Model: cfg.Model, Temperature: cfg.Temperature}

	var drafts []SampleDraft
	attempts, err := g.retry.Do(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		text, err := provider.Generate(callCtx, prompt, opts)
		if err != nil {
			// A per-call timeout is worth another attempt; the caller's is not.
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return errors.Join(ErrTransientFailure, err)
			}
			return err
		}

		drafts, err = ParseSamples(text)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.WarnContext(ctx, "record generation failed",
			"record_id", record.ID,
			"provider", provider.Name(),
			"attempts", attempts,
			"error", err)
		return nil, &RecordError{RecordID: record.ID, Attempts: attempts, Err: err}
	}

	now := g.now()
	samples := make([]domain.Sample, 0, len(drafts))
	for _, d := range drafts {
		samples = append(samples, domain.NewSample(
			taskID, record.DatasetID, record.ID, d.Instruction, d.Response, provider.Name(), now))
	}

	g.logger.DebugContext(ctx, "record generated",
		"record_id", record.ID,
		"provider", provider.Name(),
		"samples", len(samples),
		"attempts", attempts)

	return samples, nil
}
