package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/config"
	"github.com/JonMunkholm/boardsheet/internal/core"
	"github.com/JonMunkholm/boardsheet/internal/events"
	"github.com/JonMunkholm/boardsheet/internal/logging"
	"github.com/JonMunkholm/boardsheet/internal/sanitize"
	"github.com/JonMunkholm/boardsheet/internal/store/memory"
	"github.com/JonMunkholm/boardsheet/internal/store/postgres"
	"github.com/JonMunkholm/boardsheet/internal/web"
)

// backend is a store that also answers permission checks.
type backend interface {
	board.Store
	board.Permissions
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
		"store", cfg.Store.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"import_chunk_size", cfg.Import.ChunkSize,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	store, checks, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	hub := events.NewHub(cfg.Events.Buffer)
	sinks := []events.Sink{{Name: "hub", Publisher: hub}}

	var rdb *events.Redis
	if cfg.Events.RedisURL != "" {
		rdb, err = events.NewRedis(ctx, events.RedisOptions{
			URL:          cfg.Events.RedisURL,
			Prefix:       cfg.Events.RedisPrefix,
			DialTimeout:  cfg.Events.RedisTimeout,
			WriteTimeout: cfg.Events.RedisTimeout,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, events.Sink{Name: "redis", Publisher: rdb})
		checks = append(checks, web.HealthCheck{Name: "redis", Check: rdb.Ping})
		slog.Info("mirroring events to redis", "prefix", cfg.Events.RedisPrefix)
	}

	service, err := core.NewService(core.Deps{
		Store:       store,
		Permissions: store,
		Sanitizer:   sanitize.NewHTML(),
		Publisher:   events.NewMulti(sinks...),
	}, core.Options{
		ChunkSize:      cfg.Import.ChunkSize,
		MaxFileSize:    cfg.Import.MaxFileSize,
		TempDir:        cfg.Import.TempDir,
		UnzipSizeLimit: cfg.Import.UnzipSizeLimit,
		MaxConcurrent:  cfg.Import.MaxConcurrent,
		MaxWait:        cfg.Import.MaxWaitTime,
		MaxRowErrors:   cfg.Import.MaxRowErrors,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, hub, cfg, checks...)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Imports run detached from requests, so they are drained separately.
		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
		}
		if err := service.Wait(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}

		hub.Close()
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				slog.Warn("redis close", "error", err)
			}
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
	}
}

// openStore builds the configured backend and its health checks.
func openStore(ctx context.Context, cfg *config.Config) (backend, []web.HealthCheck, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil, func() {}, nil

	case config.DriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
		poolConfig.MinConns = int32(cfg.Database.MinConns)
		poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("ping: %w", err)
		}

		if u, err := url.Parse(cfg.Database.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		}

		store := postgres.New(pool)
		if cfg.Database.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		checks := []web.HealthCheck{{Name: "postgres", Check: store.Ping}}
		return store, checks, pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
