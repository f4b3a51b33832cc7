/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/errs"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "fieldsync",
	Short:        "Offline-first survey response sync engine",
	Long:         "Captures survey responses on intermittently connected field devices and drains them to the collection service when connectivity permits.",
	SilenceUsage: true,
}

// Execute installs the context logger and runs the root command; child
// commands register themselves in their init functions. Called once from main.
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logger := slog.New(slog.NewTextHandler(rootCmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	ctx = logging.WithLogger(ctx, logger)
	ctx = logging.WithAttrs(ctx, slog.String("app", "fieldsync"))

	rootCmd.SetContext(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error(ctx, "command execution failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "execute root command")
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (defaults to ./configs/config.yaml)")
}
