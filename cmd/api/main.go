package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GarthBrooksFan/experiment-tracker/internal/app/migrate"
	httpx "github.com/GarthBrooksFan/experiment-tracker/internal/http"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository/postgres"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/access"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/experiment"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/logs"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/researcher"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/resource"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/schedule"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/tag"
	"github.com/GarthBrooksFan/experiment-tracker/internal/ws"
	"github.com/GarthBrooksFan/experiment-tracker/pkg/config"
	"github.com/GarthBrooksFan/experiment-tracker/pkg/logger"
)

func main() {
	if err := config.LoadDotenv(config.GetString("DOTENV_PATH", ".env")); err != nil {
		logger.New("api", slog.LevelInfo).Warn("failed to load dotenv file", "error", err)
	}
	cfg := config.LoadAPIConfig()
	log := logger.New("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if _, err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	logHub := ws.NewHub()
	allow := access.NewCachedAllowList(access.NewStoreAllowList(repo), cfg.AllowListCacheTTL)

	services := httpx.Services{
		Access:      access.New(repo, allow, log, cfg),
		Experiments: experiment.New(repo, repo, repo, log),
		Schedule:    schedule.New(repo, log),
		Resources:   resource.New(repo, repo, log),
		Researchers: researcher.New(repo, repo, log),
		Logs:        logs.New(repo, repo, logHub, log),
		Tags:        tag.New(repo, log),
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, services, cfg, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
