package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/generation"
	"github.com/phrazzld/synthgen/internal/store"
)

// Executor drives one task's generation pipeline end to end.
type Executor struct {
	registry  *Registry
	records   store.RecordStore
	generator SampleGenerator
	samples   SampleWriter
	logger    *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(
	registry *Registry,
	records store.RecordStore,
	generator SampleGenerator,
	samples SampleWriter,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:  registry,
		records:   records,
		generator: generator,
		samples:   samples,
		logger:    logger.With("component", "task_executor"),
	}
}

// run holds the per-execution state of one task.
type run struct {
	id      uuid.UUID
	task    domain.GenerationTask
	filter  store.RecordFilter
	counts  domain.Counts
	batches int
	logger  *slog.Logger
}

// Run executes the Pending task id until it reaches a terminal status and
// returns the final snapshot.
//
// Eligible records are read in batches of cfg.BatchSize. Permanent record
// failures are counted and skipped. After every batch the samples are
// committed, progress is reported, the error-rate threshold is evaluated and
// the cancellation flag is checked. Cancelling ctx fails the task as
// interrupted. An error is returned only when the task could not be driven
// to a terminal status by this executor, e.g. because the watchdog already
// failed it.
func (x *Executor) Run(ctx context.Context, id uuid.UUID) (domain.GenerationTask, error) {
	started, err := x.registry.Transition(ctx, id, domain.TaskStatusRunning, Payload{Note: "task started"})
	if err != nil {
		return domain.GenerationTask{}, err
	}

	rn := &run{
		id:   id,
		task: started,
		filter: store.RecordFilter{
			Selection:     started.Config.Selection,
			SamplesBefore: *started.StartedAt,
		},
		logger: x.logger.With("task_id", id, "dataset_id", started.DatasetID),
	}

	return x.drive(ctx, rn)
}

func (x *Executor) drive(ctx context.Context, rn *run) (domain.GenerationTask, error) {
	cfg := rn.task.Config

	if x.registry.CancelRequested(rn.id) {
		return x.finish(ctx, rn, domain.TaskStatusCancelled, "task cancelled before start")
	}

	eligible, err := x.records.Count(ctx, rn.task.DatasetID, rn.filter)
	if err != nil {
		return x.fail(ctx, rn, fmt.Errorf("failed to count eligible records: %w", err))
	}

	rn.counts.Total = cfg.RecordCount.Target(eligible)
	note := fmt.Sprintf("selected %d of %d eligible records", rn.counts.Total, eligible)
	if _, err := x.registry.UpdateProgress(ctx, rn.id, 0, rn.counts, note); err != nil {
		return domain.GenerationTask{}, err
	}
	rn.logger.InfoContext(ctx, "generation started",
		"eligible", eligible,
		"total", rn.counts.Total,
		"provider", cfg.Provider)

	offset := 0
	for rn.counts.Processed < rn.counts.Total {
		if ctx.Err() != nil {
			return x.fail(ctx, rn, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err()))
		}

		limit := min(cfg.BatchSize, rn.counts.Total-rn.counts.Processed)
		batch, err := x.records.ReadBatch(ctx, rn.task.DatasetID, rn.filter, offset, limit)
		if err != nil {
			if ctx.Err() != nil {
				return x.fail(ctx, rn, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err()))
			}
			return x.fail(ctx, rn, fmt.Errorf("failed to read records at offset %d: %w", offset, err))
		}
		if len(batch) == 0 {
			rn.logger.WarnContext(ctx, "eligible records exhausted early",
				"processed", rn.counts.Processed,
				"total", rn.counts.Total)
			rn.counts.Total = rn.counts.Processed
			break
		}
		offset += len(batch)

		if err := x.processBatch(ctx, rn, batch); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrTaskNotFound) {
				rn.logger.WarnContext(ctx, "task is no longer running, stopping", "error", err)
				return domain.GenerationTask{}, err
			}
			return x.fail(ctx, rn, err)
		}

		progress := 100 * float64(rn.counts.Processed) / float64(rn.counts.Total)
		note := fmt.Sprintf("batch %d: processed %d/%d, generated %d, errors %d",
			rn.batches, rn.counts.Processed, rn.counts.Total, rn.counts.Generated, rn.counts.Errors)
		if _, err := x.registry.UpdateProgress(ctx, rn.id, progress, rn.counts, note); err != nil {
			// The task left Running behind our back (watchdog); stop working on it.
			rn.logger.WarnContext(ctx, "progress update rejected, stopping", "error", err)
			return domain.GenerationTask{}, err
		}

		if rn.counts.ErrorRate() > cfg.ErrorRateThreshold {
			return x.fail(ctx, rn, &ErrorRateError{
				Errors:    rn.counts.Errors,
				Processed: rn.counts.Processed,
				Threshold: cfg.ErrorRateThreshold,
			})
		}

		if x.registry.CancelRequested(rn.id) {
			return x.finish(ctx, rn, domain.TaskStatusCancelled,
				fmt.Sprintf("task cancelled after %d of %d records", rn.counts.Processed, rn.counts.Total))
		}
	}

	return x.finish(ctx, rn, domain.TaskStatusCompleted,
		fmt.Sprintf("task completed: generated %d, errors %d", rn.counts.Generated, rn.counts.Errors))
}

// processBatch generates samples for every record of batch and commits them.
// Only fatal conditions are returned; per-record failures are counted. Every
// finished record resets the watchdog, so a slow batch is not taken for a
// stalled one. A task that left Running meanwhile is abandoned without
// committing: its dataset may already belong to another task.
func (x *Executor) processBatch(ctx context.Context, rn *run, batch []domain.Record) error {
	rn.batches++
	var pending []domain.Sample

	for _, record := range batch {
		samples, err := x.generator.GenerateSamples(ctx, rn.id, record, rn.task.Config)
		if err != nil {
			var recErr *generation.RecordError
			switch {
			case errors.As(err, &recErr):
				rn.counts.Errors++
				rn.counts.Processed++
			case ctx.Err() != nil:
				// Keep what this batch already produced.
				interrupted := fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
				if err := x.commit(context.WithoutCancel(ctx), rn, pending); err != nil {
					return errors.Join(interrupted, err)
				}
				return interrupted
			default:
				return fmt.Errorf("generation failed for record %s: %w", record.ID, err)
			}
		} else {
			pending = append(pending, samples...)
			rn.counts.Generated++
			rn.counts.Processed++
		}

		if err := x.registry.Touch(rn.id); err != nil {
			if len(pending) > 0 {
				rn.logger.WarnContext(ctx, "discarding samples of a task that left running",
					"count", len(pending),
					"error", err)
			}
			return err
		}
	}

	return x.commit(ctx, rn, pending)
}

func (x *Executor) commit(ctx context.Context, rn *run, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	if err := x.samples.SaveSamples(ctx, samples); err != nil {
		rn.logger.ErrorContext(ctx, "failed to save samples", "count", len(samples), "error", err)
		return fmt.Errorf("failed to save %d samples: %w", len(samples), err)
	}
	return nil
}

func (x *Executor) fail(ctx context.Context, rn *run, cause error) (domain.GenerationTask, error) {
	rn.logger.ErrorContext(ctx, "task failed", "error", cause)
	counts := rn.counts
	final, err := x.registry.Transition(context.WithoutCancel(ctx), rn.id, domain.TaskStatusFailed, Payload{
		Counts:       &counts,
		ErrorSummary: cause.Error(),
		Note:         "task failed: " + cause.Error(),
	})
	if err != nil {
		return domain.GenerationTask{}, err
	}
	return final, nil
}

func (x *Executor) finish(ctx context.Context, rn *run, to domain.TaskStatus, note string) (domain.GenerationTask, error) {
	counts := rn.counts
	final, err := x.registry.Transition(context.WithoutCancel(ctx), rn.id, to, Payload{Counts: &counts, Note: note})
	if err != nil {
		return domain.GenerationTask{}, err
	}
	rn.logger.InfoContext(ctx, note,
		"status", to,
		"processed", counts.Processed,
		"generated", counts.Generated,
		"errors", counts.Errors)
	return final, nil
}
