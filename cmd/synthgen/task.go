package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/synthgen/internal/config"
	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/task"
)

// errTaskNotCompleted is returned when a task run ends Failed or Cancelled
// so the process exits non-zero.
var errTaskNotCompleted = errors.New("task did not complete")

func newTaskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "task",
		GroupID: "run",
		Short:   "Run and inspect generation tasks",
	}
	cmd.AddCommand(newTaskRunCmd(opts), newTaskListCmd(opts))
	return cmd
}

// taskRunFlags are the generation options accepted by "task run". Zero
// values fall back to the configured defaults.
type taskRunFlags struct {
	strategy         string
	tags             []string
	count            int
	percentage       float64
	provider         string
	model            string
	batchSize        int
	threshold        float64
	samplesPerRecord int
	temperature      float64
	progressInterval time.Duration
}

func newTaskRunCmd(opts *rootOptions) *cobra.Command {
	flags := &taskRunFlags{}

	cmd := &cobra.Command{
		Use:   "run <dataset-id>",
		Short: "Generate samples for a dataset in this process",
		Long: `Submit a generation task for the dataset to an in-process task runner
and print progress until it finishes. The runner's watchdog fails the task
if it stops making progress, heartbeats it for other synthgen processes
sharing the database, and updates the vector index after a completed task
(sync.update_after_task). The first interrupt requests cancellation; the
task stops after the batch in flight.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				genCfg, err := flags.generationConfig(app.config)
				if err != nil {
					return err
				}
				return runTask(ctx, app.runner, app.registry, args[0], genCfg, flags.progressInterval, cmd.OutOrStdout())
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.strategy, "strategy", string(domain.SelectAll), "record selection: all, unprocessed or tagged")
	f.StringSliceVar(&flags.tags, "tag", nil, "tag to select (repeatable, implies --strategy tagged)")
	f.IntVar(&flags.count, "count", 0, "process at most this many eligible records")
	f.Float64Var(&flags.percentage, "percentage", 0, "process this percentage of eligible records")
	f.StringVar(&flags.provider, "provider", "", "LLM provider (defaults to llm.default_provider)")
	f.StringVar(&flags.model, "model", "", "model override for the provider")
	f.IntVar(&flags.batchSize, "batch-size", 0, "records per batch (defaults to tasks.batch_size)")
	f.Float64Var(&flags.threshold, "error-threshold", -1, "maximum error rate in [0,1] (defaults to tasks.error_rate_threshold)")
	f.IntVar(&flags.samplesPerRecord, "samples-per-record", 0, "samples requested per record")
	f.Float64Var(&flags.temperature, "temperature", 0.7, "sampling temperature")
	f.DurationVar(&flags.progressInterval, "progress-interval", 2*time.Second, "how often progress is printed")
	cmd.MarkFlagsMutuallyExclusive("count", "percentage")
	return cmd
}

// generationConfig merges the flags over the configured task defaults and
// validates the result.
func (f *taskRunFlags) generationConfig(cfg *config.Config) (domain.GenerationConfig, error) {
	provider := f.provider
	if provider == "" {
		provider = cfg.LLM.DefaultProvider
	}
	gen := domain.DefaultGenerationConfig(provider)
	gen.Model = f.model
	gen.Temperature = f.temperature

	gen.Selection.Strategy = domain.SelectionStrategy(f.strategy)
	if len(f.tags) > 0 {
		gen.Selection = domain.Selection{Strategy: domain.SelectTagged, Tags: f.tags}
	}

	switch {
	case f.count > 0:
		gen.RecordCount = domain.RecordCountPolicy{Mode: domain.CountFixed, Count: f.count}
	case f.percentage > 0:
		gen.RecordCount = domain.RecordCountPolicy{Mode: domain.CountPercentage, Percentage: f.percentage}
	}

	gen.BatchSize = cfg.Tasks.BatchSize
	if f.batchSize > 0 {
		gen.BatchSize = f.batchSize
	}
	gen.ErrorRateThreshold = cfg.Tasks.ErrorRateThreshold
	if f.threshold >= 0 {
		gen.ErrorRateThreshold = f.threshold
	}
	gen.SamplesPerRecord = cfg.Tasks.SamplesPerRecord
	if f.samplesPerRecord > 0 {
		gen.SamplesPerRecord = f.samplesPerRecord
	}

	if err := gen.Validate(); err != nil {
		return domain.GenerationConfig{}, err
	}
	return gen, nil
}

type runResult struct {
	task domain.GenerationTask
	err  error
}

// runTask starts runner, submits a task and reports its progress to out
// until the runner is done with it.
func runTask(
	ctx context.Context,
	runner *task.Runner,
	registry *task.Registry,
	datasetID string,
	genCfg domain.GenerationConfig,
	interval time.Duration,
	out io.Writer,
) error {
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	defer runner.Stop()

	t, err := runner.Submit(ctx, datasetID, genCfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "task %s created for dataset %s\n", t.ID, datasetID)

	done := make(chan runResult, 1)
	go func() {
		final, err := runner.Wait(ctx, t.ID)
		done <- runResult{task: final, err: err}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	interrupted := sigCtx.Done()

	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case res := <-done:
			if res.err != nil {
				return res.err
			}
			return finishTask(res.task, out)
		case <-ticker.C:
			if snapshot, err := registry.Get(t.ID); err == nil {
				printProgress(out, snapshot)
			}
		case <-interrupted:
			interrupted = nil
			stop()
			fmt.Fprintln(out, "cancellation requested, finishing current batch...")
			if err := registry.RequestCancel(ctx, t.ID); err != nil {
				fmt.Fprintf(out, "cancellation failed: %v\n", err)
			}
		}
	}
}

func finishTask(final domain.GenerationTask, out io.Writer) error {
	printProgress(out, final)
	if final.ErrorSummary != "" {
		fmt.Fprintf(out, "summary: %s\n", final.ErrorSummary)
	}
	if final.Status != domain.TaskStatusCompleted {
		return fmt.Errorf("%w: %s", errTaskNotCompleted, final.Status)
	}
	return nil
}

func printProgress(out io.Writer, t domain.GenerationTask) {
	fmt.Fprintf(out, "[%s] %5.1f%% processed %d/%d generated %d errors %d\n",
		t.Status, t.Progress, t.Counts.Processed, t.Counts.Total, t.Counts.Generated, t.Counts.Errors)
}

type taskListFlags struct {
	dataset  string
	statuses []string
	limit    int
}

func newTaskListCmd(opts *rootOptions) *cobra.Command {
	flags := &taskListFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted task snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			return opts.withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				tasks, err := app.taskStore.ListTasks(ctx, filter)
				if err != nil {
					return err
				}
				printTasks(cmd.OutOrStdout(), tasks)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.dataset, "dataset", "", "only tasks of this dataset")
	cmd.Flags().StringSliceVar(&flags.statuses, "status", nil, "only tasks in these statuses")
	cmd.Flags().IntVar(&flags.limit, "limit", 20, "maximum number of tasks")
	return cmd
}

func (f *taskListFlags) filter() (domain.TaskFilter, error) {
	filter := domain.TaskFilter{DatasetID: f.dataset, Limit: f.limit}
	for _, s := range f.statuses {
		status := domain.TaskStatus(strings.ToLower(s))
		if !status.IsValid() {
			return domain.TaskFilter{}, fmt.Errorf("%w: %q", domain.ErrInvalidTaskStatus, s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

func printTasks(out io.Writer, tasks []domain.GenerationTask) {
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no tasks")
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(out, "%s  %-10s %-20s %5.1f%%  generated %d  errors %d  created %s\n",
			t.ID, t.Status, t.DatasetID, t.Progress, t.Counts.Generated, t.Counts.Errors,
			t.CreatedAt.Format(time.RFC3339))
	}
}
