package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hysmio/deployments-dashboard/internal/app/migrate"
	"github.com/hysmio/deployments-dashboard/internal/cache"
	httpx "github.com/hysmio/deployments-dashboard/internal/http"
	"github.com/hysmio/deployments-dashboard/internal/repository"
	"github.com/hysmio/deployments-dashboard/internal/repository/fixture"
	"github.com/hysmio/deployments-dashboard/internal/repository/postgres"
	"github.com/hysmio/deployments-dashboard/pkg/config"
)

// backend is the event store the API reads from, plus what it holds open.
type backend struct {
	store  repository.Store
	pg     *postgres.Repository
	health []httpx.HealthCheck
	close  func()
}

func openBackend(ctx context.Context, cfg config.APIConfig, variant repository.Variant, log *slog.Logger) (backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "fixture":
		store, err := fixture.Load(cfg.FixtureDir, variant)
		if err != nil {
			return backend{}, fmt.Errorf("load fixtures: %w", err)
		}
		log.Info("serving fixture data", "dir", cfg.FixtureDir)
		return backend{store: store, close: func() {}}, nil
	case "", "postgres":
	default:
		return backend{}, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return backend{}, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return backend{}, fmt.Errorf("ping database: %w", err)
	}
	if cfg.AutoMigrate {
		runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			pool.Close()
			return backend{}, fmt.Errorf("configure migrations: %w", err)
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return backend{}, err
		}
	}
	repo := postgres.New(pool, variant, log)
	return backend{
		store:  repo,
		pg:     repo,
		health: []httpx.HealthCheck{{Name: "database", Check: repo.Ping}},
		close:  pool.Close,
	}, nil
}

// openCache returns the read cache, or nil when caching is disabled.
func openCache(cfg config.APIConfig, log *slog.Logger) (cache.Store, *httpx.HealthCheck, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.CacheBackend)) {
	case "none", "off":
		log.Info("read cache disabled")
		return nil, nil, nil
	case "redis":
		c, err := cache.NewRedis(cfg.CacheRedisAddr, cfg.CacheRedisPass, cfg.CacheRedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect cache redis: %w", err)
		}
		return c, &httpx.HealthCheck{Name: "cache", Check: c.Ping}, nil
	case "", "memory":
		return cache.NewMemory(), nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
}

func openLimiter(cfg config.APIConfig, log *slog.Logger) httpx.RateLimiter {
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		limiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err == nil {
			return limiter
		}
		log.Warn("redis rate limiter unavailable", "error", err)
	}
	return httpx.NewMemoryRateLimiter()
}
