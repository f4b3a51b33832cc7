package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/errs"
	"fieldsync/internal/usecase/capture"
)

var (
	captureFarmerID string
	captureAnswers  string
	captureMedia    []string
	captureSpoolDir string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture and import survey responses",
}

var captureSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Store one response in the pending queue",
	RunE: withApp(func(cmd *cobra.Command, deps *appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		created, err := deps.Capture.Submit(ctx, capture.SubmitInput{
			FarmerID:    captureFarmerID,
			AnswersJSON: captureAnswers,
			MediaPaths:  captureMedia,
		})
		if err != nil {
			return errs.Wrap(err, "submit response")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "captured response %s\n", created.ID); err != nil {
			return errs.Wrap(err, "write capture output")
		}
		return nil
	}),
}

var captureImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import spooled response files into the queue",
	RunE: withApp(func(cmd *cobra.Command, deps *appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		dir := captureSpoolDir
		if dir == "" {
			dir = deps.App.Config.Capture.SpoolDir
		}

		imported, err := deps.Capture.ImportSpool(ctx, dir)
		if err != nil {
			return errs.Wrap(err, "import spool")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "imported %d responses from %s\n", imported, dir); err != nil {
			return errs.Wrap(err, "write capture output")
		}
		return nil
	}),
}

var captureWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously import spooled response files",
	RunE: withApp(func(cmd *cobra.Command, deps *appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		dir := captureSpoolDir
		if dir == "" {
			dir = deps.App.Config.Capture.SpoolDir
		}

		return deps.Capture.Watch(ctx, dir)
	}),
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.AddCommand(captureSubmitCmd, captureImportCmd, captureWatchCmd)

	captureSubmitCmd.Flags().StringVar(&captureFarmerID, "farmer", "", "Farmer identifier")
	captureSubmitCmd.Flags().StringVar(&captureAnswers, "answers", "", "Answers JSON document")
	captureSubmitCmd.Flags().StringSliceVar(&captureMedia, "media", nil, "Captured media file paths")
	_ = captureSubmitCmd.MarkFlagRequired("farmer")
	_ = captureSubmitCmd.MarkFlagRequired("answers")

	captureImportCmd.Flags().StringVar(&captureSpoolDir, "spool", "", "Spool directory (defaults to capture.spool_dir)")
	captureWatchCmd.Flags().StringVar(&captureSpoolDir, "spool", "", "Spool directory (defaults to capture.spool_dir)")
}
