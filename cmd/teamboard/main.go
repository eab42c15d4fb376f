package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	commenthttp "github.com/MyNameIsWhaaat/teamboard/internal/comment/handler/http"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/job"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/localcache"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/service"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage/inmemory"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage/postgres"
	redisstore "github.com/MyNameIsWhaaat/teamboard/internal/comment/storage/redis"
	"github.com/MyNameIsWhaaat/teamboard/internal/config"
	"github.com/MyNameIsWhaaat/teamboard/internal/metrics"
)

func main() {
	configPath := flag.String("config", "configs/teamboard.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := initLogger(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting teamboard",
		zap.String("addr", cfg.Server.Addr),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("env", cfg.Server.Env))

	m := metrics.New(logger)

	remote, closeRemote, err := openRemote(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to open comment store", zap.Error(err))
	}
	defer closeRemote()

	kv, closeKV, err := openCache(cfg.Cache)
	if err != nil {
		logger.Fatal("Failed to open annotation cache", zap.Error(err))
	}
	defer closeKV()

	cache := localcache.New(kv, cfg.Cache.Prefix, logger.Named("localcache"))
	threads := service.NewRegistry(remote, cache, service.Options{
		Logger:  logger.Named("comments"),
		Metrics: m,
	})
	defer threads.Close()

	sweeper := job.NewOrphanSweeper(remote, logger.Named("sweeper"), m)
	scheduler, err := job.NewScheduler(cfg.Jobs.SweepSchedule, sweeper, logger)
	if err != nil {
		logger.Fatal("Failed to schedule orphan sweeper", zap.Error(err))
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	h := commenthttp.New(threads, commenthttp.NewAuthenticator(cfg.Auth.JWTSecret), commenthttp.Options{
		Logger:  logger.Named("http"),
		Metrics: m,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", zap.Error(err))
	}
}

func openRemote(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		s, err := redisstore.Open(ctx, cfg.RedisURL, cfg.RedisPrefix, logger.Named("redis"))
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s, logger), nil
	case config.BackendPostgres:
		r, err := postgres.Open(ctx, cfg.DatabaseURL, logger.Named("postgres"))
		if err != nil {
			return nil, nil, err
		}
		return r, closer(r, logger), nil
	default:
		return inmemory.New(logger.Named("inmemory")), func() {}, nil
	}
}

func openCache(cfg config.CacheConfig) (localcache.KV, func(), error) {
	if cfg.Path == "" {
		return localcache.NewMemoryKV(), func() {}, nil
	}
	kv, err := localcache.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return kv, func() { _ = kv.Close() }, nil
}

func closer(c io.Closer, logger *zap.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
	}
}

func initLogger(cfg config.ServerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Env == "dev" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
