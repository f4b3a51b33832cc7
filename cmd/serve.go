package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/errs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device-local HTTP API",
	RunE: withApp(func(cmd *cobra.Command, deps *appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		addr := deps.App.Config.Server.ListenAddr
		server := &http.Server{
			Addr:              addr,
			Handler:           deps.Server.Router(),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		}

		serveErr := make(chan error, 1)
		go func() {
			logging.Info(ctx, "http api listening", slog.String("addr", addr))
			serveErr <- server.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return errs.Wrap(err, "shutdown http server")
			}
			return nil
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errs.Wrap(err, "serve http api")
		}
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
