package generation_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/generation"
	"github.com/phrazzld/synthgen/internal/mocks"
)

const validResponse = `{"samples":[{"instruction":"What is Go?","response":"A language."}]}`

var fastRetry = generation.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func newGenerator(t *testing.T, providers ...generation.Provider) *generation.Generator {
	t.Helper()
	prompts, err := generation.NewPromptBuilder("")
	require.NoError(t, err)
	g, err := generation.NewGenerator(generation.NewRegistry(providers...), prompts, fastRetry, 0, nil)
	require.NoError(t, err)
	return g
}

func testRecord() domain.Record {
	return domain.Record{ID: "r1", DatasetID: "d1", Content: "Go is a programming language.", Tags: []string{"lang"}}
}

func TestGenerateSamples_Success(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockProvider{NameValue: "mock", Response: "```json\n" + validResponse + "\n```"}
	g := newGenerator(t, provider)
	taskID := uuid.New()

	cfg := domain.DefaultGenerationConfig("mock")
	cfg.SamplesPerRecord = 3
	samples, err := g.GenerateSamples(context.Background(), taskID, testRecord(), cfg)
	require.NoError(t, err)
	require.Len(t, samples, 1)

	assert.Equal(t, taskID, samples[0].TaskID)
	assert.Equal(t, "r1", samples[0].RecordID)
	assert.Equal(t, "d1", samples[0].DatasetID)
	assert.Equal(t, "mock", samples[0].Provider)
	assert.Equal(t, "What is Go?", samples[0].Instruction)

	prompts := provider.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Go is a programming language.")
	assert.Contains(t, prompts[0], "write 3 distinct")
	assert.Contains(t, prompts[0], "tagged: lang")
}

func TestGenerateSamples_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	provider := &mocks.MockProvider{
		GenerateFn: func(ctx context.Context, prompt string, opts generation.Options) (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("%w: rate limited", generation.ErrTransientFailure)
			}
			return validResponse, nil
		},
	}
	g := newGenerator(t, provider)

	samples, err := g.GenerateSamples(context.Background(), uuid.New(), testRecord(), domain.DefaultGenerationConfig("mock"))
	require.NoError(t, err)
	assert.Len(t, samples, 1)
	assert.Equal(t, 3, provider.Calls())
}

func TestGenerateSamples_RetriesExhausted(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockProvider{Err: fmt.Errorf("%w: 503", generation.ErrTransientFailure)}
	g := newGenerator(t, provider)

	_, err := g.GenerateSamples(context.Background(), uuid.New(), testRecord(), domain.DefaultGenerationConfig("mock"))

	var recErr *generation.RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "r1", recErr.RecordID)
	assert.Equal(t, 3, recErr.Attempts)
	assert.ErrorIs(t, err, generation.ErrRetriesExhausted)
	assert.False(t, generation.IsTransient(err), "exhausted retries must be permanent")
	assert.Equal(t, 3, provider.Calls())
}

func TestGenerateSamples_PermanentFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *mocks.MockProvider
		record   domain.Record
		want     error
	}{
		{
			name:     "blocked content",
			provider: &mocks.MockProvider{Err: generation.ErrContentBlocked},
			record:   testRecord(),
			want:     generation.ErrContentBlocked,
		},
		{
			name:     "malformed response",
			provider: &mocks.MockProvider{Response: "not json"},
			record:   testRecord(),
			want:     generation.ErrInvalidResponse,
		},
		{
			name:     "empty record",
			provider: &mocks.MockProvider{Response: validResponse},
			record:   domain.Record{ID: "r2", DatasetID: "d1", Content: "   "},
			want:     domain.ErrEmptyContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGenerator(t, tt.provider)
			_, err := g.GenerateSamples(context.Background(), uuid.New(), tt.record, domain.DefaultGenerationConfig("mock"))

			var recErr *generation.RecordError
			require.ErrorAs(t, err, &recErr)
			assert.ErrorIs(t, err, tt.want)
			assert.LessOrEqual(t, tt.provider.Calls(), 1, "permanent failures are not retried")
		})
	}
}

func TestGenerateSamples_UnknownProvider(t *testing.T) {
	t.Parallel()

	g := newGenerator(t, &mocks.MockProvider{NameValue: "gemini"})
	_, err := g.GenerateSamples(context.Background(), uuid.New(), testRecord(), domain.DefaultGenerationConfig("openai"))

	assert.ErrorIs(t, err, generation.ErrUnknownProvider)
	var recErr *generation.RecordError
	assert.False(t, errors.As(err, &recErr))
}

func TestGenerateSamples_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	provider := &mocks.MockProvider{
		GenerateFn: func(ctx context.Context, prompt string, opts generation.Options) (string, error) {
			cancel()
			return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
		},
	}
	g := newGenerator(t, provider)

	_, err := g.GenerateSamples(ctx, uuid.New(), testRecord(), domain.DefaultGenerationConfig("mock"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPromptBuilder_CustomTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "custom.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("{{.RecordID}}|{{.SamplesPerRecord}}|{{join .Tags \",\"}}"), 0o600))

	b, err := generation.NewPromptBuilder(path)
	require.NoError(t, err)

	prompt, err := b.Build(domain.Record{ID: "x", Content: "c", Tags: []string{"a", "b"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, "x|1|a,b", prompt)

	_, err = generation.NewPromptBuilder(filepath.Join(t.TempDir(), "missing.tmpl"))
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestParseSamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "plain json", input: validResponse, want: 1},
		{name: "fenced json", input: "```json\n" + validResponse + "\n```", want: 1},
		{name: "two samples", input: `{"samples":[{"instruction":"a","response":"b"},{"instruction":"c","response":"d"}]}`, want: 2},
		{name: "empty samples", input: `{"samples":[]}`, wantErr: true},
		{name: "missing response", input: `{"samples":[{"instruction":"a"}]}`, wantErr: true},
		{name: "garbage", input: "sure! here you go", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drafts, err := generation.ParseSamples(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, generation.ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Len(t, drafts, tt.want)
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := generation.NewRegistry(&mocks.MockProvider{NameValue: "openai"}, &mocks.MockProvider{NameValue: "gemini"})
	assert.Equal(t, []string{"gemini", "openai"}, r.Names())

	p, err := r.Get("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	_, err = r.Get("bard")
	assert.ErrorIs(t, err, generation.ErrUnknownProvider)
	assert.True(t, strings.Contains(err.Error(), "bard"))
}
