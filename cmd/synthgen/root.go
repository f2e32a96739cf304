package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phrazzld/synthgen/internal/config"
	"github.com/phrazzld/synthgen/internal/platform/logger"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "synthgen",
		Short: "Synthetic training data generation and vector index sync",
		Long: `synthgen generates training samples from dataset records with an LLM
provider and keeps a similarity index of the generated samples in sync with
the relational store.

Configuration is read from synthgen.yaml and SYNTHGEN_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a config file")

	root.AddGroup(
		&cobra.Group{ID: "run", Title: "Running:"},
		&cobra.Group{ID: "data", Title: "Data management:"},
	)
	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newTaskCmd(opts),
		newSyncCmd(opts),
	)
	return root
}

// bootstrap loads configuration and sets up logging. The returned closer
// flushes the log file, if any.
func (o *rootOptions) bootstrap() (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, closeLog, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Debug("configuration loaded",
		"log_level", cfg.Log.Level,
		"vector_backend", cfg.Vector.Backend,
		"default_provider", cfg.LLM.DefaultProvider)
	return cfg, log, closeLog, nil
}

// withApplication bootstraps a full application, runs fn and cleans up.
func (o *rootOptions) withApplication(ctx context.Context, fn func(ctx context.Context, app *application) error) error {
	cfg, log, closeLog, err := o.bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ctx = logger.WithLogger(ctx, log)
	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.cleanup(ctx)

	return fn(ctx, app)
}
