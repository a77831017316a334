package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/campusbridge/campusbridge/internal/api"
	"github.com/campusbridge/campusbridge/internal/auth"
	"github.com/campusbridge/campusbridge/internal/cache"
	"github.com/campusbridge/campusbridge/internal/config"
	"github.com/campusbridge/campusbridge/internal/db"
	"github.com/campusbridge/campusbridge/internal/health"
	"github.com/campusbridge/campusbridge/internal/logger"
	"github.com/campusbridge/campusbridge/internal/metrics"
	"github.com/campusbridge/campusbridge/internal/middleware"
	"github.com/campusbridge/campusbridge/internal/posts"
	"github.com/campusbridge/campusbridge/internal/websocket"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		logger.Error(context.Background(), "server exited", err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so deferred cleanup happens before main
// decides the exit code.
func run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.SetDefault(logger.NewWithFormat(os.Stdout, logger.ParseLevel(cfg.LogLevel), logger.Format(strings.ToLower(cfg.LogFormat)), "server"))
	log := logger.Default()

	var (
		userStore auth.UserStore
		postStore posts.Store
		checkCfg  = &health.CheckerConfig{Version: cfg.Version}
	)

	switch cfg.StorageDriver {
	case config.StorageMemory:
		users := db.NewMemoryUserRepository()
		userStore = users
		postStore = db.NewMemoryPostRepository(users)
		log.Warn(ctx, "using in-memory storage, data is lost on restart")
	default:
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		userStore = db.NewUserRepository(database)
		postStore = db.NewPostRepository(database)
		checkCfg.DB = database.DB
	}

	// A nil interface, not a nil *cache.Cache, disables caching.
	var postCache posts.Cache
	if cfg.RedisAddr != "" {
		c, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn(ctx, "redis unavailable, post caching disabled", map[string]interface{}{
				"addr":  cfg.RedisAddr,
				"error": err.Error(),
			})
		} else {
			defer c.Close()
			postCache = c
			checkCfg.Redis = c
		}
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	m := metrics.New()

	hub := websocket.NewHub(m.SetWSConnections)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()
	// Stop the hub on every return path, including early errors below.
	defer func() {
		stop()
		<-hubDone
	}()

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenExpiry,
		RefreshTTL:    cfg.RefreshTokenExpiry,
	})
	if err != nil {
		return fmt.Errorf("failed to configure token issuer: %w", err)
	}

	authService := auth.NewService(userStore, auth.NewBcryptHasher(cfg.BcryptCost), issuer, auth.NewValidator(cfg.EmailDomain), m)
	postService := posts.NewService(postStore, postCache, cfg.PostCacheTTL, hub)

	router := api.NewRouter(api.Deps{
		Auth:           auth.NewHandlers(authService, issuer, auth.CookieConfig{Secure: cfg.CookieSecure}),
		Verifier:       auth.NewVerifier(issuer, userStore),
		Posts:          posts.NewHandlers(postService),
		Feed:           websocket.NewHandler(hub, cfg.CORSAllowedOrigins),
		Health:         health.NewHandler(health.NewChecker(checkCfg)),
		Metrics:        m,
		Limiter:        middleware.NewRateLimiter(ctx, cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst, proxies),
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "server starting", map[string]interface{}{
			"addr":    cfg.ServerAddr,
			"storage": cfg.StorageDriver,
			"version": cfg.Version,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info(context.Background(), "stopped")
	return nil
}
