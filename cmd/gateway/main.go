package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrmushfiq/llm0-router/internal/gateway/cache"
	"github.com/mrmushfiq/llm0-router/internal/gateway/dispatch"
	"github.com/mrmushfiq/llm0-router/internal/gateway/handlers"
	"github.com/mrmushfiq/llm0-router/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/config"
	"github.com/mrmushfiq/llm0-router/internal/shared/database"
	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
	"github.com/mrmushfiq/llm0-router/internal/shared/redis"
	"github.com/mrmushfiq/llm0-router/internal/usage"
)

func main() {
	if err := run(); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Setup(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	logger.Info("starting llm0 router", "port", cfg.Port, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("database ready")

	// Initialize Redis (optional)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("redis ready")
	}

	// Initialize routing config
	catalog, err := routing.LoadCatalog(cfg.RoutingCatalogFile)
	if err != nil {
		return err
	}
	configOpts := []routing.ConfigOption{routing.WithTTL(cfg.RoutingCacheTTL)}
	if redisClient != nil {
		configOpts = append(configOpts, routing.WithBroadcaster(redisClient))
	}
	configs := routing.NewConfigService(db, catalog, configOpts...)

	// Initialize usage tracking
	tracker := usage.NewTracker(db, configs, usage.WithLocation(cfg.BudgetTimezone))

	// Initialize provider manager
	providerMgr := providers.NewManager(cfg)
	logger.Info("providers ready", "providers", providerMgr.Providers())

	// Initialize dispatcher
	var dispatchOpts []dispatch.Option
	if cfg.CacheEnabled && redisClient != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithCache(cache.New(redisClient, time.Duration(cfg.CacheTTLSeconds)*time.Second)))
	}
	dispatcher := dispatch.New(configs, providerMgr, tracker, dispatchOpts...)

	// Initialize handlers
	var limiter handlers.RateLimiter
	if redisClient != nil {
		limiter = redisClient
	}
	router := handlers.NewRouter(handlers.Deps{
		Chat:       handlers.NewChatHandler(dispatcher),
		Routing:    handlers.NewRoutingHandler(configs, dispatcher),
		Usage:      handlers.NewUsageHandler(tracker),
		Middleware: handlers.NewMiddleware(limiter, cfg.DefaultRateLimit),
		Database:   db,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.RoutingCatalogFile != "" {
		g.Go(func() error {
			return routing.WatchCatalog(gctx, cfg.RoutingCatalogFile, configs)
		})
	}

	if redisClient != nil {
		g.Go(func() error {
			// Without the subscription this instance relies on the TTL alone
			if err := redisClient.SubscribeInvalidations(gctx, configs.Invalidate); err != nil {
				logger.Warn("routing invalidation subscription stopped", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
