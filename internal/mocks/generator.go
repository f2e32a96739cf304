package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/generation"
)

// MockProvider implements generation.Provider for testing
type MockProvider struct {
	NameValue string

	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, prompt string, opts generation.Options) (string, error)

	// Default response values
	Response string
	Err      error

	mu      sync.Mutex
	prompts []string
}

// Name implements generation.Provider
func (m *MockProvider) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// Generate implements generation.Provider
func (m *MockProvider) Generate(ctx context.Context, prompt string, opts generation.Options) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, prompt, opts)
	}
	return m.Response, m.Err
}

// Calls returns how many times Generate was called.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns every prompt passed to Generate in call order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// MockSampleGenerator mocks the record-to-samples step of the executor
type MockSampleGenerator struct {
	GenerateSamplesFn func(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error)

	mu        sync.Mutex
	recordIDs []string
}

// GenerateSamples returns GenerateSamplesFn's result, or one sample per record.
func (m *MockSampleGenerator) GenerateSamples(
	ctx context.Context,
	taskID uuid.UUID,
	record domain.Record,
	cfg domain.GenerationConfig,
) ([]domain.Sample, error) {
	m.mu.Lock()
	m.recordIDs = append(m.recordIDs, record.ID)
	m.mu.Unlock()

	if m.GenerateSamplesFn != nil {
		return m.GenerateSamplesFn(ctx, taskID, record, cfg)
	}
	return []domain.Sample{
		domain.NewSample(taskID, record.DatasetID, record.ID, "instruction "+record.ID, "response", cfg.Provider, record.UpdatedAt),
	}, nil
}

// RecordIDs returns the IDs of every record passed to GenerateSamples.
func (m *MockSampleGenerator) RecordIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.recordIDs...)
}
