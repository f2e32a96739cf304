package mocks

import (
	"context"
	"hash/fnv"
	"sync"
)

// MockEmbedder produces deterministic embeddings derived from the text.
type MockEmbedder struct {
	Dimension int

	// EmbedFn allows test cases to mock the Embed behavior
	EmbedFn func(ctx context.Context, text string) ([]float32, error)

	mu    sync.Mutex
	calls int
}

// Embed returns EmbedFn's result or a hash-seeded vector.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return HashEmbedding(text, m.Dimension), nil
}

// Calls returns how many times Embed was called.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// HashEmbedding returns a deterministic non-zero vector for text.
func HashEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 8
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed>>40)/float32(1<<24) + 0.01
	}
	return vec
}
