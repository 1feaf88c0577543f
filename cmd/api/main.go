package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpx "github.com/hysmio/deployments-dashboard/internal/http"
	"github.com/hysmio/deployments-dashboard/internal/presenter"
	"github.com/hysmio/deployments-dashboard/internal/repository"
	"github.com/hysmio/deployments-dashboard/internal/repository/cached"
	"github.com/hysmio/deployments-dashboard/internal/service/auth"
	"github.com/hysmio/deployments-dashboard/internal/service/catalog"
	"github.com/hysmio/deployments-dashboard/internal/service/deploy"
	"github.com/hysmio/deployments-dashboard/internal/service/events"
	"github.com/hysmio/deployments-dashboard/internal/service/feed"
	"github.com/hysmio/deployments-dashboard/internal/service/stats"
	"github.com/hysmio/deployments-dashboard/internal/ws"
	"github.com/hysmio/deployments-dashboard/pkg/config"
	"github.com/hysmio/deployments-dashboard/pkg/logger"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadAPIConfig()
	log := logger.NewWithFormat(os.Stdout, "api", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	variant, err := repository.ParseVariant(cfg.EventSchema)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	be, err := openBackend(ctx, cfg, variant, log)
	if err != nil {
		log.Error("failed to open event store", "error", err)
		os.Exit(1)
	}
	defer be.close()

	readCache, cacheHealth, err := openCache(cfg, log)
	if err != nil {
		log.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	if readCache != nil {
		defer readCache.Close()
	}
	health := be.health
	if cacheHealth != nil {
		health = append(health, *cacheHealth)
	}
	store := cached.New(be.store, readCache)

	var hub *ws.Hub
	if cfg.FeedEnabled && be.pg != nil {
		hub = ws.NewHubWithBuffer(cfg.FeedBuffer)
	}

	router := httpx.NewRouter(log, httpx.Services{
		Auth:    auth.New(log, cfg),
		Catalog: catalog.New(store, store),
		Deploy:  deploy.New(store, log),
		Events:  events.New(store),
		Stats:   stats.New(store, cfg.StatsWindowDays, log),
	}, httpx.Options{
		Limiter:   openLimiter(cfg, log),
		ReadLimit: cfg.RateLimitPerMinute,
		Cache:     store,
		Hub:       hub,
		Pages:     presenter.PageParams{DefaultLimit: cfg.DefaultPageLimit, MaxLimit: cfg.MaxPageLimit},
		Health:    health,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if hub != nil {
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return feed.New(be.pg, store, hub, cfg.EventChannel, log).Run(gctx)
		})
	}
	g.Go(func() error {
		log.Info("api server starting", "addr", cfg.Addr, "storage", cfg.StorageBackend, "event_schema", variant)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
