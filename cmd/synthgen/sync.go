package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/vectorsync"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: "data",
		Short:   "Synchronize the vector index with the generated samples",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Build the index, fully when it is empty or --force is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				state, err := app.syncEngine.Initialize(ctx, force)
				if err != nil {
					return err
				}
				printSyncState(cmd.OutOrStdout(), state)
				return nil
			})
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "rebuild even if the index already has entries")

	var verify bool
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Apply changes since the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				var (
					state domain.SyncState
					err   error
				)
				if verify {
					state, err = vectorsync.NewChecker(app.syncEngine).Reconcile(ctx)
				} else {
					state, err = app.syncEngine.Update(ctx)
				}
				printSyncState(cmd.OutOrStdout(), state)
				return err
			})
		},
	}
	updateCmd.Flags().BoolVar(&verify, "verify", false, "fail if the index still differs from the source afterwards")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the last observed sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				state, err := app.syncEngine.Stats(ctx)
				if err != nil {
					return err
				}
				printSyncState(cmd.OutOrStdout(), state)
				return nil
			})
		},
	}

	cmd.AddCommand(initCmd, updateCmd, statsCmd)
	return cmd
}

func printSyncState(out io.Writer, s domain.SyncState) {
	synced := "no"
	if vectorsync.IsSynced(s) {
		synced = "yes"
	}
	last := "never"
	if s.LastSyncedAt != nil {
		last = s.LastSyncedAt.Format(time.RFC3339)
	}
	mode := string(s.Mode)
	if mode == "" {
		mode = "none"
	}

	fmt.Fprintf(out, "synced:      %s\n", synced)
	fmt.Fprintf(out, "source:      %d\n", s.SourceCount)
	fmt.Fprintf(out, "vectors:     %d\n", s.VectorCount)
	fmt.Fprintf(out, "mode:        %s (upserted %d, deleted %d)\n", mode, s.Upserted, s.Deleted)
	fmt.Fprintf(out, "last synced: %s\n", last)
	if s.DegradedCount > 0 {
		fmt.Fprintf(out, "degraded:    %d %v\n", s.DegradedCount, s.DegradedIDs)
	}
}
