package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/feedpipe/internal/config"
	"github.com/JonMunkholm/feedpipe/internal/core"
	"github.com/JonMunkholm/feedpipe/internal/events"
	"github.com/JonMunkholm/feedpipe/internal/feedsource"
	"github.com/JonMunkholm/feedpipe/internal/lock"
	"github.com/JonMunkholm/feedpipe/internal/logging"
	"github.com/JonMunkholm/feedpipe/internal/store/postgres"
	"github.com/JonMunkholm/feedpipe/internal/store/sqlite"
	"github.com/JonMunkholm/feedpipe/internal/telemetry"
	"github.com/JonMunkholm/feedpipe/internal/web"
)

// startupTimeout bounds connecting to the store, NATS and Redis.
const startupTimeout = 30 * time.Second

// migratingStore is a core.Store that can apply its embedded schema.
type migratingStore interface {
	core.Store
	Migrate(ctx context.Context) error
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver(),
		"ingest_max_concurrent", cfg.Ingest.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"events_enabled", cfg.Events.NATSURL != "",
		"redis_lock", cfg.Lock.RedisURL != "",
	)

	if err := run(cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	shutdownTracing, tracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown error", "error", err)
		}
	}()
	slog.Info("tracing configured", "enabled", tracing)

	store, err := openStore(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
		slog.Info("schema applied")
	}

	publisher, err := events.Connect(cfg.Events, "feedpipe")
	if err != nil {
		return fmt.Errorf("connect events: %w", err)
	}
	defer publisher.Close()

	locker, closeLocker, err := newLocker(ctx, &cfg.Lock)
	if err != nil {
		return err
	}
	defer closeLocker()

	opts := []feedsource.Option{}
	if s3c, err := feedsource.NewS3Client(cfg.S3); err != nil {
		slog.Warn("s3 feed sources disabled", "error", err)
	} else {
		opts = append(opts, feedsource.WithS3(s3c))
	}
	if cfg.Ingest.AllowLocalFiles {
		slog.Warn("local feed files enabled")
		opts = append(opts, feedsource.WithLocalFiles())
	}
	opener := feedsource.New(cfg.Ingest.FetchTimeout, opts...)

	service := core.NewService(store, cfg,
		core.WithNotifier(publisher),
		core.WithLocker(locker),
	)
	server := web.NewServer(service, opener, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first so no new run starts while draining.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if active := service.ActiveRunCount(); active > 0 {
		slog.Info("waiting for runs to complete", "active", active)
		if err := service.WaitForRuns(shutdownCtx); err != nil {
			n := service.CancelAll()
			slog.Warn("runs did not complete in time, cancelling", "cancelled", n, "error", err)

			// Cancelled runs still write their terminal state.
			grace, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = service.WaitForRuns(grace)
			graceCancel()
		} else {
			slog.Info("all runs completed")
		}
	}
	return nil
}

// openStore connects to the store selected by the database URL scheme.
func openStore(ctx context.Context, cfg *config.DatabaseConfig) (migratingStore, error) {
	switch cfg.Driver() {
	case "postgres":
		st, err := postgres.Open(ctx, cfg.URL, postgres.PoolConfig{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		slog.Info("connected to database", "driver", "postgres")
		return st, nil
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.Info("opened database", "driver", "sqlite", "path", cfg.SQLitePath())
		return st, nil
	}
	return nil, errors.New("unsupported database url scheme")
}

// newLocker returns the Redis lock when REDIS_URL is set and the
// in-process lock otherwise.
func newLocker(ctx context.Context, cfg *config.LockConfig) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocal(cfg.WaitTime), func() {}, nil
	}
	client, err := lock.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("using redis dedup lock", "ttl", cfg.TTL)
	closeClient := func() {
		if err := client.Close(); err != nil {
			slog.Warn("redis close error", "error", err)
		}
	}
	return lock.NewRedis(client, cfg.TTL, cfg.WaitTime), closeClient, nil
}
