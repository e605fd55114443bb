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
	"github.com/joho/godotenv"

	"github.com/skiffhq/skiff/internal/app/migrate"
	"github.com/skiffhq/skiff/internal/executor"
	"github.com/skiffhq/skiff/internal/httpx"
	"github.com/skiffhq/skiff/internal/publisher"
	"github.com/skiffhq/skiff/internal/repository/postgres"
	"github.com/skiffhq/skiff/internal/service/deploy"
	"github.com/skiffhq/skiff/internal/service/logs"
	"github.com/skiffhq/skiff/internal/store"
	"github.com/skiffhq/skiff/internal/workspace"
	"github.com/skiffhq/skiff/internal/ws"
	"github.com/skiffhq/skiff/pkg/config"
	"github.com/skiffhq/skiff/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	contentStore, err := store.NewS3Store(ctx, store.S3Options{
		Bucket:    cfg.StoreBucket,
		Region:    cfg.StoreRegion,
		Endpoint:  cfg.StoreEndpoint,
		AccessKey: cfg.StoreAccessKey,
		SecretKey: cfg.StoreSecretKey,
	})
	if err != nil {
		log.Error("failed to configure content store", "error", err)
		os.Exit(1)
	}

	exec, err := executor.NewDockerExecutor(ctx, executor.DockerOptions{
		Host:            cfg.DockerHost,
		Image:           cfg.BuildImage,
		MemoryLimitMB:   2048,
		CPUQuotaPercent: 200,
	})
	if err != nil {
		log.Error("failed to reach build backend", "error", err)
		os.Exit(1)
	}
	defer exec.Close()

	workspaces, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err)
		os.Exit(1)
	}

	logHub := ws.NewHub()
	defer logHub.Shutdown()

	logSvc := logs.New(repo, logHub, log)
	pub := publisher.New(contentStore, log)
	deploySvc := deploy.New(repo, exec, workspaces, pub, logSvc, log, cfg)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, deploySvc, logSvc, limiter, cfg.JWTSecret, cfg.SSEHeartbeat, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		deploySvc.Wait()
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
