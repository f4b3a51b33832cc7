package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Server   ServerConfig   `mapstructure:"server"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// SyncConfig bounds the retry state machine, the early-stop policy, the
// advisory backoff schedule, and cleanup of old synced rows.
type SyncConfig struct {
	MaxRetryCount               int   `mapstructure:"max_retry_count"`
	ConsecutiveFailureThreshold int   `mapstructure:"consecutive_failure_threshold"`
	InitialBackoffMs            int64 `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs                int64 `mapstructure:"max_backoff_ms"`
	MaxBackoffExponent          int   `mapstructure:"max_backoff_exponent"`
	RetentionWindowMs           int64 `mapstructure:"retention_window_ms"`
	CleanupThreshold            int   `mapstructure:"cleanup_threshold"`
}

type UploadConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	TimeoutMs int64  `mapstructure:"timeout_ms"`
	AuthToken string `mapstructure:"auth_token"`
}

type CaptureConfig struct {
	SpoolDir string `mapstructure:"spool_dir"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Field devices often run on defaults and env overrides alone.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Int("max_retry_count", cfg.Sync.MaxRetryCount),
	)

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if cfg.Sync.MaxRetryCount < 1 {
		return fmt.Errorf("sync.max_retry_count must be >= 1, got %d", cfg.Sync.MaxRetryCount)
	}
	if cfg.Sync.ConsecutiveFailureThreshold < 1 {
		return fmt.Errorf("sync.consecutive_failure_threshold must be >= 1, got %d", cfg.Sync.ConsecutiveFailureThreshold)
	}
	if cfg.Sync.InitialBackoffMs < 0 || cfg.Sync.MaxBackoffMs < cfg.Sync.InitialBackoffMs {
		return errors.New("sync backoff bounds are inconsistent")
	}
	if cfg.Sync.MaxBackoffExponent < 0 {
		return fmt.Errorf("sync.max_backoff_exponent must be >= 0, got %d", cfg.Sync.MaxBackoffExponent)
	}
	if cfg.Sync.RetentionWindowMs < 0 {
		return errors.New("sync.retention_window_ms must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fieldsync")
	v.SetDefault("app.env", "local")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".fieldsync/state/responses.sqlite")

	v.SetDefault("sync.max_retry_count", 5)
	v.SetDefault("sync.consecutive_failure_threshold", 3)
	v.SetDefault("sync.initial_backoff_ms", 1000)
	v.SetDefault("sync.max_backoff_ms", 60000)
	v.SetDefault("sync.max_backoff_exponent", 5)
	v.SetDefault("sync.retention_window_ms", 7*24*60*60*1000)
	v.SetDefault("sync.cleanup_threshold", 30)

	v.SetDefault("upload.endpoint", "")
	v.SetDefault("upload.timeout_ms", 30000)

	v.SetDefault("capture.spool_dir", ".fieldsync/spool")

	v.SetDefault("server.listen_addr", "127.0.0.1:8799")
}
