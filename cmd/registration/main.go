package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vehicleregistry/internal/app"
	"vehicleregistry/internal/config"
	"vehicleregistry/internal/ratelimit"
	"vehicleregistry/internal/server"
	"vehicleregistry/internal/util"
	"vehicleregistry/pkg/storage"
	"vehicleregistry/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCfg := app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		QueueCapacity: cfg.QueueCapacity,
		Workers:       cfg.Workers,
	}
	if cfg.DatabaseURL == "" {
		slog.Warn("databaseURL not set, using in-memory store")
		appCfg.Store = store.NewMemoryStore()
	}
	if cfg.RedisAddr != "" {
		appCfg.Tasks = store.NewRedisTaskStore(cfg.RedisAddr, cfg.RedisPassword, 0)
	}
	if cfg.MinioEndpoint != "" {
		archive, err := storage.NewMinioArchive(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init minio archive: %v", err)
		}
		appCfg.Archive = archive
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCore.Start(ctx)

	serverCfg := server.Config{
		App:            appCore,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if cfg.UploadRateLimit > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "",
			cfg.UploadRateLimit, time.Duration(cfg.UploadRateWindowSeconds)*time.Second)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		serverCfg.UploadLimiter = limiter
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trustedProxies: %v", err)
	}
	serverCfg.TrustedProxies = trusted

	httpServer := server.New(serverCfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}()

	slog.Info("registration server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}

	appCore.Shutdown()
	slog.Info("registration server stopped")
}
