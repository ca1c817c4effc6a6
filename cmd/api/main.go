package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/jawn/internal/api"
	"github.com/nikhilbhutani/jawn/internal/api/handlers"
	"github.com/nikhilbhutani/jawn/internal/api/middleware"
	"github.com/nikhilbhutani/jawn/internal/audit"
	"github.com/nikhilbhutani/jawn/internal/auth"
	"github.com/nikhilbhutani/jawn/internal/cache"
	"github.com/nikhilbhutani/jawn/internal/config"
	"github.com/nikhilbhutani/jawn/internal/database"
	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/nikhilbhutani/jawn/internal/prompt"
	"github.com/nikhilbhutani/jawn/internal/queue"
	"github.com/nikhilbhutani/jawn/internal/session"
)

const templateCacheTTL = 5 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	origins, err := cfg.AllowedOrigins()
	if err != nil {
		slog.Error("invalid CORS origins", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Redis is optional: without it the template cache misses and usage
	// records fail to enqueue.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable", "error", err)
	}
	defer rdb.Close()
	templateCache := cache.NewCache(rdb, "jawn:")

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	promptSvc := prompt.NewService(db).WithCache(templateCache, templateCacheTTL)
	auditSvc := audit.NewService(db)
	gateway := llm.NewGateway(cfg.LLM)

	sessions := session.NewManager(promptSvc,
		session.NewGatewayExecutor(gateway, cfg.LLM.DefaultProvider, cfg.LLM.DefaultModel),
		session.WithUsage(queueClient),
		session.WithIdleTTL(cfg.Session.IdleTTL),
	)
	defer sessions.Close()
	go sessions.Run(ctx)

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		go limiter.Run(ctx)
	}

	if cfg.AuthDisabled() {
		slog.Warn("authentication disabled", "environment", cfg.Server.Environment)
	}

	router := &api.Router{
		Origins:      origins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		RouteTimeout: cfg.Server.RouteTimeout,
		Authenticators: []func(http.Handler) http.Handler{
			auth.NewAPIKeyMiddleware(db, cfg.Auth.APIKeyHeader).Authenticate,
			auth.NewJWTMiddleware(cfg.Auth.JWTSecret, cfg.AuthDisabled()).Authenticate,
		},
		RateLimiter: limiter,
		Checks: map[string]handlers.Pinger{
			"database": db,
			"redis":    templateCache,
		},
		Prompts:  promptSvc,
		Sessions: sessions,
		Audit:    auditSvc,
		Gateway:  gateway,
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
