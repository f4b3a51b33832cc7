package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/errs"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete synced responses older than the retention window",
	RunE: withApp(func(cmd *cobra.Command, deps *appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if err := deps.Cleanup.CleanupOldSynced(ctx); err != nil {
			return errs.Wrap(err, "cleanup old synced responses")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
