package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phrazzld/synthgen/internal/platform/logger"
	"github.com/phrazzld/synthgen/internal/platform/postgres"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		GroupID:   "data",
		Short:     "Apply, roll back or inspect database migrations",
		Long:      "Run a goose command against the embedded schema migrations. Defaults to up.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := postgres.MigrateUp
			if len(args) == 1 {
				command = args[0]
			}

			cfg, log, closeLog, err := opts.bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			ctx := logger.WithLogger(cmd.Context(), log)
			db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, log)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := postgres.Migrate(ctx, db, command, log); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", command)
			return nil
		},
	}
}
