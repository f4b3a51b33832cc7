package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"fieldsync/internal/api"
	"fieldsync/internal/bootstrap/config"
	"fieldsync/internal/bootstrap/database"
	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/domain/survey"
	"fieldsync/internal/infrastructure/clock"
	"fieldsync/internal/infrastructure/filestore"
	sqlitekv "fieldsync/internal/infrastructure/persistence/sqlite/kv"
	sqliterepo "fieldsync/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "fieldsync/internal/infrastructure/persistence/sqlite/uow"
	"fieldsync/internal/infrastructure/transport"
	"fieldsync/internal/ports"
	"fieldsync/internal/usecase/capture"
	syncusecase "fieldsync/internal/usecase/sync"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewResponseRepository,
			fx.As(new(ports.ResponseRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqlitekv.NewSQLiteKV,
			fx.As(new(ports.KV)),
		),
	),
	fx.Provide(
		fx.Annotate(
			clock.NewSystem,
			fx.As(new(ports.Clock)),
		),
	),
	fx.Provide(
		fx.Annotate(
			filestore.NewSink,
			fx.As(new(ports.FileSink)),
		),
	),
	fx.Provide(provideUploader),
	fx.Provide(provideEngine),
	fx.Provide(provideCleanup),
	fx.Provide(capture.NewService),
	fx.Provide(api.NewServer),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideUploader(cfg config.Config) ports.Uploader {
	return transport.NewHTTPUploader(
		cfg.Upload.Endpoint,
		cfg.Upload.AuthToken,
		time.Duration(cfg.Upload.TimeoutMs)*time.Millisecond,
	)
}

func provideEngine(repo ports.ResponseRepository, uploader ports.Uploader, sink ports.FileSink, clk ports.Clock, journal ports.KV, cfg config.Config) *syncusecase.Engine {
	return syncusecase.NewEngine(repo, uploader, sink, clk, journal, syncusecase.Config{
		MaxRetryCount:               cfg.Sync.MaxRetryCount,
		ConsecutiveFailureThreshold: cfg.Sync.ConsecutiveFailureThreshold,
		Backoff: survey.BackoffSchedule{
			InitialDelay: time.Duration(cfg.Sync.InitialBackoffMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Sync.MaxBackoffMs) * time.Millisecond,
			MaxExponent:  cfg.Sync.MaxBackoffExponent,
		},
	})
}

func provideCleanup(repo ports.ResponseRepository, clk ports.Clock, cfg config.Config) *syncusecase.Cleanup {
	return syncusecase.NewCleanup(repo, clk, syncusecase.CleanupConfig{
		RetentionWindow:  time.Duration(cfg.Sync.RetentionWindowMs) * time.Millisecond,
		CleanupThreshold: cfg.Sync.CleanupThreshold,
	})
}
