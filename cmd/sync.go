package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/domain/survey"
	"fieldsync/internal/errs"
)

var syncSkipCleanup bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain pending responses to the collection service",
	RunE: withApp(func(cmd *cobra.Command, deps *appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		result := deps.Engine.Sync(ctx)

		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "succeeded: %d, failed: %d, pending: %d\n",
			len(result.Succeeded), len(result.Failed), len(result.Pending)); err != nil {
			return errs.Wrap(err, "write sync output")
		}
		if result.Stop != nil {
			detail := ""
			if result.Stop.Err != nil {
				detail = ": " + result.Stop.Err.Error()
			}
			if _, err := fmt.Fprintf(out, "stopped early: %s%s\n", result.Stop.Kind, detail); err != nil {
				return errs.Wrap(err, "write sync output")
			}
		}

		if syncSkipCleanup {
			return nil
		}

		// Cleanup is caller-triggered, keyed on queue growth.
		counts, err := deps.Repo.CountByStatus(ctx)
		if err != nil {
			return errs.Wrap(err, "count responses")
		}
		pendingCount := int(counts[survey.StatusPending] + counts[survey.StatusFailedRetryable])
		if deps.Cleanup.ShouldTrigger(pendingCount) {
			if err := deps.Cleanup.CleanupOldSynced(ctx); err != nil {
				return errs.Wrap(err, "cleanup old synced responses")
			}
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncSkipCleanup, "skip-cleanup", false, "Skip the post-drain cleanup check")
}
