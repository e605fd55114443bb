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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skiffhq/skiff/internal/resolver"
	"github.com/skiffhq/skiff/internal/store"
	"github.com/skiffhq/skiff/pkg/config"
	"github.com/skiffhq/skiff/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadRouterConfig()
	log := logger.New("router", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Metrics listen on their own port: the public surface is host-routed
	// and must never shadow a site's own /metrics path.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           resolver.New(contentStore, log, cfg.CacheMaxAge),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("router starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		_ = metricsSrv.Shutdown(shutdownCtx)
		log.Info("router stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
