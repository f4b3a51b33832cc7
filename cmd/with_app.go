package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"fieldsync/internal/api"
	"fieldsync/internal/bootstrap"
	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/errs"
	"fieldsync/internal/ports"
	"fieldsync/internal/usecase/capture"
	syncusecase "fieldsync/internal/usecase/sync"
)

// appDeps is everything a command may need from the container.
type appDeps struct {
	App     *bootstrap.App
	Engine  *syncusecase.Engine
	Cleanup *syncusecase.Cleanup
	Capture *capture.Service
	Server  *api.Server
	Repo    ports.ResponseRepository
}

func withApp(run func(cmd *cobra.Command, deps *appDeps) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		deps := &appDeps{}
		fxApp := fx.New(
			bootstrap.Module,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Populate(&deps.App, &deps.Engine, &deps.Cleanup, &deps.Capture, &deps.Server, &deps.Repo),
		)

		startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		if err := run(cmd, deps); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}
