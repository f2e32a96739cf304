package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/synthgen/internal/platform/postgres"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		GroupID: "run",
		Short:   "Maintain the task store and vector index until interrupted",
		Long: `Run the long-lived synthgen maintenance process. It executes no tasks
itself; tasks are run with "synthgen task run".

On start it applies pending migrations (database.migrate_on_start) and
initializes the vector index (server.init_index). Until SIGINT or SIGTERM it
then fails tasks whose owning process stopped heartbeating for longer than
tasks.stall_interval, releasing their datasets, and updates the vector index
every server.sync_interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withApplication(ctx, serve)
		},
	}
}

func serve(ctx context.Context, app *application) error {
	cfg := app.config

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(ctx, app.db, postgres.MigrateUp, app.logger); err != nil {
			return err
		}
	}

	if err := app.runner.StartMonitor(ctx); err != nil {
		return fmt.Errorf("failed to start task watchdog: %w", err)
	}

	if cfg.Server.InitIndex {
		state, err := app.syncEngine.Initialize(ctx, false)
		if err != nil {
			// The index can be rebuilt later with "sync init"; the process stays up.
			app.logger.Error("failed to initialize vector index", "error", err)
		} else {
			app.logger.Info("vector index initialized",
				"mode", state.Mode,
				"source_count", state.SourceCount,
				"vector_count", state.VectorCount,
				"degraded_count", state.DegradedCount)
		}
	}

	app.logger.Info("synthgen serving", "sync_interval", cfg.Server.SyncInterval)

	var syncTick <-chan time.Time
	if cfg.Server.SyncInterval > 0 {
		ticker := time.NewTicker(cfg.Server.SyncInterval)
		defer ticker.Stop()
		syncTick = ticker.C
	}

	for {
		select {
		case <-syncTick:
			state, err := app.syncEngine.Update(ctx)
			if err != nil {
				app.logger.Error("periodic index update failed", "error", err)
				continue
			}
			app.logger.Info("vector index updated",
				"upserted", state.Upserted,
				"deleted", state.Deleted,
				"degraded_count", state.DegradedCount)

		case <-ctx.Done():
			app.logger.Info("shutting down...")
			return stopRunner(app)
		}
	}
}

func stopRunner(app *application) error {
	timeout := app.config.Server.ShutdownTimeout
	stopped := make(chan struct{})
	go func() {
		app.runner.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		app.logger.Info("task watchdog stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("task watchdog did not stop within %s", timeout)
	}
}
