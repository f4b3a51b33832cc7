package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/domain/survey"
	"fieldsync/internal/errs"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts per status",
	RunE: withApp(func(cmd *cobra.Command, deps *appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		counts, err := deps.Repo.CountByStatus(ctx)
		if err != nil {
			return errs.Wrap(err, "count responses")
		}
		total, err := deps.Repo.Count(ctx)
		if err != nil {
			return errs.Wrap(err, "count responses")
		}

		out := cmd.OutOrStdout()
		for _, status := range []survey.Status{
			survey.StatusPending,
			survey.StatusFailedRetryable,
			survey.StatusSynced,
			survey.StatusFailedPermanent,
		} {
			if _, err := fmt.Fprintf(out, "%-17s %d\n", status, counts[status]); err != nil {
				return errs.Wrap(err, "write status output")
			}
		}
		if _, err := fmt.Fprintf(out, "%-17s %d\n", "total", total); err != nil {
			return errs.Wrap(err, "write status output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
