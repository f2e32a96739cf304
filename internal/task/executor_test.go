package task

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/generation"
	"github.com/phrazzld/synthgen/internal/mocks"
	"github.com/phrazzld/synthgen/internal/store"
)

const testDataset = "dataset-d"

// recordIndex parses the numeric suffix of the IDs built by NewMockRecordStore.
func recordIndex(t *testing.T, id string) int {
	t.Helper()
	n, err := strconv.Atoi(id[1:])
	require.NoError(t, err)
	return n
}

// failingGenerator fails every record for which fail returns true.
func failingGenerator(t *testing.T, fail func(i int) bool) *mocks.MockSampleGenerator {
	gen := &mocks.MockSampleGenerator{}
	gen.GenerateSamplesFn = func(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error) {
		if fail(recordIndex(t, record.ID)) {
			return nil, &generation.RecordError{
				RecordID: record.ID,
				Attempts: 1,
				Err:      generation.ErrInvalidResponse,
			}
		}
		return []domain.Sample{
			domain.NewSample(taskID, record.DatasetID, record.ID, "q", "a", cfg.Provider, record.UpdatedAt),
		}, nil
	}
	return gen
}

type executorFixture struct {
	registry *Registry
	records  *mocks.MockRecordStore
	gen      *mocks.MockSampleGenerator
	samples  *mocks.MockSampleStore
	executor *Executor
}

func newExecutorFixture(t *testing.T, n int, gen *mocks.MockSampleGenerator) *executorFixture {
	t.Helper()
	if gen == nil {
		gen = &mocks.MockSampleGenerator{}
	}
	f := &executorFixture{
		registry: newTestRegistry(t, nil, nil),
		records:  mocks.NewMockRecordStore(testDataset, n),
		gen:      gen,
		samples:  &mocks.MockSampleStore{},
	}
	f.executor = NewExecutor(f.registry, f.records, f.gen, f.samples, discardLogger())
	return f
}

func (f *executorFixture) create(t *testing.T, cfg domain.GenerationConfig) domain.GenerationTask {
	t.Helper()
	created, err := f.registry.Create(context.Background(), testDataset, cfg)
	require.NoError(t, err)
	return created
}

func TestExecutor_CompletesAllRecords(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, 120, nil)
	created := f.create(t, testConfig())

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Equal(t, float64(100), final.Progress)
	assert.Equal(t, domain.Counts{Processed: 120, Total: 120, Generated: 120}, final.Counts)
	assert.Len(t, f.samples.Samples(), 120)
	assert.Equal(t, 3, f.samples.SaveCalls, "one commit per batch")
	require.NotNil(t, final.FinishedAt)

	_, held := f.registry.LockHolder(testDataset)
	assert.False(t, held)
}

func TestExecutor_ErrorRateBelowThreshold(t *testing.T) {
	t.Parallel()

	// Every 20th record fails: 5% against a 20% threshold.
	f := newExecutorFixture(t, 1000, failingGenerator(t, func(i int) bool { return i%20 == 0 }))
	created := f.create(t, testConfig())

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Equal(t, 1000, final.Counts.Processed)
	assert.Equal(t, 50, final.Counts.Errors)
	assert.Equal(t, 950, final.Counts.Generated)
	assert.Empty(t, final.ErrorSummary)
	assert.Len(t, f.samples.Samples(), 950)
}

func TestExecutor_ErrorRateAboveThreshold(t *testing.T) {
	t.Parallel()

	// Three records in ten fail: 30% against a 20% threshold.
	f := newExecutorFixture(t, 1000, failingGenerator(t, func(i int) bool { return i%10 < 3 }))
	created := f.create(t, testConfig())

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Contains(t, final.ErrorSummary, "0.30 > threshold 0.20")
	assert.Equal(t, 50, final.Counts.Processed, "fails at the first batch boundary")
	assert.Equal(t, 15, final.Counts.Errors)
	assert.Less(t, final.Progress, float64(100))
	assert.Len(t, f.samples.Samples(), 35, "samples of the evaluated batch stay committed")

	_, held := f.registry.LockHolder(testDataset)
	assert.False(t, held)
}

func TestExecutor_ErrorRateAtThresholdContinues(t *testing.T) {
	t.Parallel()

	// One failure in five is exactly 20%.
	f := newExecutorFixture(t, 100, failingGenerator(t, func(i int) bool { return i%5 == 0 }))
	created := f.create(t, testConfig())

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Equal(t, 20, final.Counts.Errors)
}

func TestExecutor_CancelAtBatchBoundary(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockSampleGenerator{}
	f := newExecutorFixture(t, 500, gen)
	created := f.create(t, testConfig())

	gen.GenerateSamplesFn = func(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error) {
		if record.ID == "r0120" {
			require.NoError(t, f.registry.RequestCancel(ctx, taskID))
		}
		return []domain.Sample{
			domain.NewSample(taskID, record.DatasetID, record.ID, "q", "a", cfg.Provider, record.UpdatedAt),
		}, nil
	}

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusCancelled, final.Status)
	assert.Equal(t, 150, final.Counts.Processed, "the current batch finishes first")
	assert.Len(t, f.samples.Samples(), 150)
	require.NotNil(t, final.FinishedAt)
	assert.Empty(t, final.ErrorSummary)

	_, held := f.registry.LockHolder(testDataset)
	assert.False(t, held)
}

func TestExecutor_CancelBeforeStart(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, 10, nil)
	created := f.create(t, testConfig())
	require.NoError(t, f.registry.RequestCancel(context.Background(), created.ID))

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusCancelled, final.Status)
	assert.Empty(t, f.gen.RecordIDs())
	assert.Zero(t, f.records.ReadBatchCalls)
}

func TestExecutor_ContextCancellationInterrupts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &mocks.MockSampleGenerator{}
	gen.GenerateSamplesFn = func(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error) {
		if record.ID == "r0010" {
			cancel()
			return nil, ctx.Err()
		}
		return []domain.Sample{
			domain.NewSample(taskID, record.DatasetID, record.ID, "q", "a", cfg.Provider, record.UpdatedAt),
		}, nil
	}
	f := newExecutorFixture(t, 100, gen)
	created := f.create(t, testConfig())

	final, err := f.executor.Run(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Contains(t, final.ErrorSummary, ErrInterrupted.Error())
	assert.Len(t, f.samples.Samples(), 10, "partial batch is committed")
}

func TestExecutor_FatalGeneratorError(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockSampleGenerator{}
	gen.GenerateSamplesFn = func(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error) {
		return nil, generation.ErrUnknownProvider
	}
	f := newExecutorFixture(t, 10, gen)
	created := f.create(t, testConfig())

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Contains(t, final.ErrorSummary, generation.ErrUnknownProvider.Error())
	assert.Len(t, f.gen.RecordIDs(), 1)
}

func TestExecutor_SaveFailureFailsTask(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, 10, nil)
	f.samples.SaveSamplesFn = func(ctx context.Context, samples []domain.Sample) error {
		return errors.New("disk full")
	}
	created := f.create(t, testConfig())

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Contains(t, final.ErrorSummary, "disk full")
}

func TestExecutor_CountFailureFailsTask(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, 10, nil)
	f.records.CountFn = func(ctx context.Context, datasetID string, filter store.RecordFilter) (int, error) {
		return 0, errors.New("connection refused")
	}
	created := f.create(t, testConfig())

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Contains(t, final.ErrorSummary, "connection refused")
}

func TestExecutor_RecordCountPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy domain.RecordCountPolicy
		want   int
	}{
		{"all", domain.RecordCountPolicy{Mode: domain.CountAll}, 200},
		{"fixed", domain.RecordCountPolicy{Mode: domain.CountFixed, Count: 75}, 75},
		{"fixed above eligible", domain.RecordCountPolicy{Mode: domain.CountFixed, Count: 500}, 200},
		{"percentage", domain.RecordCountPolicy{Mode: domain.CountPercentage, Percentage: 10}, 20},
		{"percentage rounds up", domain.RecordCountPolicy{Mode: domain.CountPercentage, Percentage: 0.1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newExecutorFixture(t, 200, nil)
			cfg := testConfig()
			cfg.RecordCount = tt.policy
			created := f.create(t, cfg)

			final, err := f.executor.Run(context.Background(), created.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStatusCompleted, final.Status)
			assert.Equal(t, tt.want, final.Counts.Total)
			assert.Equal(t, tt.want, final.Counts.Processed)
			assert.Len(t, f.gen.RecordIDs(), tt.want)
		})
	}
}

func TestExecutor_SelectionStrategies(t *testing.T) {
	t.Parallel()

	t.Run("unprocessed", func(t *testing.T) {
		t.Parallel()

		f := newExecutorFixture(t, 10, nil)
		f.records.ProcessedIDs = map[string]bool{"r0000": true, "r0001": true}
		cfg := testConfig()
		cfg.Selection = domain.Selection{Strategy: domain.SelectUnprocessed}
		created := f.create(t, cfg)

		final, err := f.executor.Run(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, 8, final.Counts.Processed)
		assert.NotContains(t, f.gen.RecordIDs(), "r0000")
	})

	t.Run("tagged", func(t *testing.T) {
		t.Parallel()

		f := newExecutorFixture(t, 10, nil)
		f.records.Records[3].Tags = []string{"finance"}
		f.records.Records[7].Tags = []string{"legal", "finance"}
		cfg := testConfig()
		cfg.Selection = domain.Selection{Strategy: domain.SelectTagged, Tags: []string{"finance"}}
		created := f.create(t, cfg)

		final, err := f.executor.Run(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, final.Counts.Processed)
		assert.Equal(t, []string{"r0003", "r0007"}, f.gen.RecordIDs())
	})
}

func TestExecutor_EmptyDatasetCompletes(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t, 0, nil)
	created := f.create(t, testConfig())

	final, err := f.executor.Run(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Zero(t, final.Counts.Total)
}

func TestExecutor_ProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	var seen []float64
	taskStore.SaveTaskFn = func(ctx context.Context, task domain.GenerationTask) error {
		seen = append(seen, task.Progress)
		return nil
	}

	registry := newTestRegistry(t, nil, taskStore)
	records := mocks.NewMockRecordStore(testDataset, 230)
	executor := NewExecutor(registry, records, &mocks.MockSampleGenerator{}, &mocks.MockSampleStore{}, discardLogger())

	created, err := registry.Create(context.Background(), testDataset, testConfig())
	require.NoError(t, err)
	_, err = executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, float64(100), seen[len(seen)-1])
}

func TestExecutor_StopsWhenWatchdogFailedTask(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	registry := newTestRegistry(t, clock, nil)
	records := mocks.NewMockRecordStore(testDataset, 100)

	gen := &mocks.MockSampleGenerator{}
	gen.GenerateSamplesFn = func(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error) {
		if record.ID == "r0005" {
			clock.Advance(time.Hour)
			registry.FailStalled(ctx, time.Minute)
		}
		return nil, nil
	}
	executor := NewExecutor(registry, records, gen, &mocks.MockSampleStore{}, discardLogger())

	created, err := registry.Create(context.Background(), testDataset, testConfig())
	require.NoError(t, err)

	_, err = executor.Run(context.Background(), created.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := registry.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorSummary, ErrStalled.Error())
	assert.Len(t, gen.RecordIDs(), 6, "executor stops after the record in flight")
}

func TestExecutor_SlowBatchKeepsWatchdogAway(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	registry := newTestRegistry(t, clock, nil)
	records := mocks.NewMockRecordStore(testDataset, 20)

	// Each record takes four minutes, so a whole batch takes far longer than
	// the stall interval while no single record does.
	var stalled []uuid.UUID
	gen := &mocks.MockSampleGenerator{}
	gen.GenerateSamplesFn = func(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error) {
		clock.Advance(4 * time.Minute)
		stalled = append(stalled, registry.FailStalled(ctx, 5*time.Minute)...)
		return []domain.Sample{
			domain.NewSample(taskID, record.DatasetID, record.ID, "q", "a", cfg.Provider, record.UpdatedAt),
		}, nil
	}
	samples := &mocks.MockSampleStore{}
	executor := NewExecutor(registry, records, gen, samples, discardLogger())

	cfg := testConfig()
	cfg.BatchSize = 10
	created, err := registry.Create(context.Background(), testDataset, cfg)
	require.NoError(t, err)

	final, err := executor.Run(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Empty(t, stalled)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Len(t, samples.Samples(), 20)
}

func TestExecutor_InterruptReportsLostSamples(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &mocks.MockSampleGenerator{}
	gen.GenerateSamplesFn = func(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error) {
		if record.ID == "r0010" {
			cancel()
			return nil, ctx.Err()
		}
		return []domain.Sample{
			domain.NewSample(taskID, record.DatasetID, record.ID, "q", "a", cfg.Provider, record.UpdatedAt),
		}, nil
	}
	f := newExecutorFixture(t, 100, gen)
	f.samples.SaveSamplesFn = func(ctx context.Context, samples []domain.Sample) error {
		return errors.New("disk full")
	}
	created := f.create(t, testConfig())

	final, err := f.executor.Run(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Contains(t, final.ErrorSummary, ErrInterrupted.Error())
	assert.Contains(t, final.ErrorSummary, "failed to save 10 samples")
	assert.Contains(t, final.ErrorSummary, "disk full")
}
