package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many tasks execute concurrently
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// StallInterval is how long a Running task may go without a progress
	// update before the watchdog fails it
	StallInterval time.Duration

	// CheckInterval defines how often the watchdog runs
	CheckInterval time.Duration

	// Retention is how long terminal tasks stay in memory. Zero keeps them.
	Retention time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:   2,
		QueueSize:     100,
		StallInterval: 10 * time.Minute,
		CheckInterval: time.Minute,
		Retention:     24 * time.Hour,
	}
}

// Runner manages background task processing: it queues submitted tasks,
// executes them on a worker pool and watches for stalled tasks. Its watchdog
// also heartbeats the tasks it owns and fails tasks abandoned by other
// processes sharing the task store.
type Runner struct {
	registry *Registry
	executor *Executor
	queue    *TaskQueue
	pool     *WorkerPool
	config   RunnerConfig
	logger   *slog.Logger

	indexUpdater IndexUpdater

	doneMu sync.Mutex
	done   map[uuid.UUID]chan struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewRunner creates a new Runner
func NewRunner(registry *Registry, executor *Executor, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_runner")

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		registry:   registry,
		executor:   executor,
		queue:      NewTaskQueue(config.QueueSize, logger),
		config:     config,
		logger:     logger,
		done:       make(map[uuid.UUID]chan struct{}),
		ctx:        ctx,
		cancelFunc: cancel,
	}
	r.pool = NewWorkerPool(r.queue, config.WorkerCount, r.processTask, logger)
	return r
}

// SetIndexUpdater configures the hook run after a task completed with
// generated samples.
func (r *Runner) SetIndexUpdater(u IndexUpdater) {
	r.indexUpdater = u
}

// Submit creates a task for datasetID and queues it for execution. When
// the queue is full the task is failed immediately, releasing the dataset
// lock, and the error matches ErrQueueFull.
func (r *Runner) Submit(ctx context.Context, datasetID string, cfg domain.GenerationConfig) (domain.GenerationTask, error) {
	t, err := r.registry.Create(ctx, datasetID, cfg)
	if err != nil {
		return domain.GenerationTask{}, err
	}

	r.doneMu.Lock()
	r.done[t.ID] = make(chan struct{})
	r.doneMu.Unlock()

	if err := r.queue.Enqueue(t.ID); err != nil {
		r.markDone(t.ID)
		failed, abortErr := r.registry.Abort(ctx, t.ID, err.Error())
		if abortErr != nil {
			return domain.GenerationTask{}, errors.Join(err, abortErr)
		}
		return failed, err
	}

	return t, nil
}

// Wait blocks until the submitted task id has been processed, including the
// index update after it, and returns its final snapshot. Tasks this runner
// did not queue are returned as they are.
func (r *Runner) Wait(ctx context.Context, id uuid.UUID) (domain.GenerationTask, error) {
	r.doneMu.Lock()
	ch, ok := r.done[id]
	r.doneMu.Unlock()

	if ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return domain.GenerationTask{}, ctx.Err()
		}
	}
	return r.registry.Get(id)
}

func (r *Runner) markDone(id uuid.UUID) {
	r.doneMu.Lock()
	defer r.doneMu.Unlock()
	if ch, ok := r.done[id]; ok {
		close(ch)
		delete(r.done, id)
	}
}

// Start recovers abandoned tasks, then starts the workers and the watchdog.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.StartMonitor(ctx); err != nil {
		return err
	}
	r.pool.Start()
	return nil
}

// StartMonitor recovers abandoned tasks and starts only the watchdog, for a
// process that executes no tasks itself but keeps the shared task store
// clean.
func (r *Runner) StartMonitor(ctx context.Context) error {
	if _, err := r.registry.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	r.wg.Add(1)
	go r.monitor()

	return nil
}

// Stop gracefully shuts down the runner. Running tasks observe context
// cancellation and fail as interrupted; queued tasks that never started
// are failed as well.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancelFunc()
		r.pool.Stop()
		r.wg.Wait()
		r.queue.Close()

		for id := range r.queue.Channel() {
			if _, err := r.registry.Abort(context.Background(), id, "runner stopped before task started"); err != nil {
				r.logger.Error("failed to abort queued task", "task_id", id, "error", err)
			}
			r.markDone(id)
		}
	})
}

// processTask handles execution of a single task
func (r *Runner) processTask(ctx context.Context, id uuid.UUID) {
	defer r.markDone(id)
	logger := r.logger.With("task_id", id)
	logger.Info("processing task")

	final, err := r.executor.Run(ctx, id)
	if err != nil {
		logger.Error("task execution ended abnormally", "error", err)
		return
	}

	logger.Info("task finished",
		"status", final.Status,
		"generated", final.Counts.Generated,
		"errors", final.Counts.Errors)

	if final.Status == domain.TaskStatusCompleted && final.Counts.Generated > 0 && r.indexUpdater != nil {
		state, err := r.indexUpdater.Update(ctx)
		if err != nil {
			logger.Error("index update after task failed", "error", err)
			return
		}
		logger.Info("index updated after task",
			"upserted", state.Upserted,
			"deleted", state.Deleted,
			"degraded", state.DegradedCount)
	}
}

// monitor periodically runs the watchdog sweep.
func (r *Runner) monitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			r.sweep(r.ctx)
		}
	}
}

// sweep runs one watchdog pass: fail stalled tasks, heartbeat the live
// ones, fail tasks abandoned by other processes, evict old terminal ones.
func (r *Runner) sweep(ctx context.Context) {
	if r.config.StallInterval > 0 {
		if stalled := r.registry.FailStalled(ctx, r.config.StallInterval); len(stalled) > 0 {
			r.logger.Warn("failed stalled tasks", "count", len(stalled))
		}
	}
	r.registry.Heartbeat(ctx)
	// Without an abandonment window every unowned task looks abandoned, so
	// only the startup pass may recover.
	if r.registry.abandonAfter > 0 {
		if _, err := r.registry.Recover(ctx); err != nil {
			r.logger.Error("failed to recover abandoned tasks", "error", err)
		}
	}
	if r.config.Retention > 0 {
		if evicted := r.registry.EvictTerminal(r.config.Retention); evicted > 0 {
			r.logger.Debug("evicted terminal tasks", "count", evicted)
		}
	}
}
