package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"storeledger/backend/internal/aggregate"
	"storeledger/backend/internal/cache"
	"storeledger/backend/internal/config"
	"storeledger/backend/internal/httpapi"
	"storeledger/backend/internal/lock"
	"storeledger/backend/internal/service"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/store/memory"
	pgstore "storeledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	log := logger.WithField("module", "server")

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	if err := validateCacheConfig(cfg); err != nil {
		log.Fatalf("invalid cache configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	results := cache.ResultStore(cache.NoopResultStore{})
	latch := lock.Latch(lock.NewLocalLatch())
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisResultStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisStore.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process result store and import latch")
		} else {
			results = redisStore
			latch = lock.NewRedisLatch(redisStore.Client(), time.Duration(cfg.ImportLockTTLSeconds)*time.Second)
			closers = append(closers, redisStore.Close)
			log.Info("result store and import latch: redis")
		}
	} else {
		log.Info("result store: noop, import latch: local")
	}

	svc := service.New(repo, service.Options{
		Logger:          logger,
		Results:         results,
		ResultTTL:       time.Duration(cfg.ResultCacheTTLSeconds) * time.Second,
		Latch:           latch,
		Runner:          aggregate.NewRunner(cfg.WorkerCount, logger),
		CacheCapacity:   cfg.ResultCacheCapacity,
		FingerprintMode: cache.ParseMode(cfg.FingerprintMode),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Address()).Info("store ledger backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}

	closeAll(log, closers)
	log.Info("server stopped")
}

func closeAll(log logrus.FieldLogger, closers []func() error) {
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Error("close error")
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

func validateCacheConfig(cfg config.Config) error {
	switch cache.Mode(cfg.FingerprintMode) {
	case cache.ModeSummary, cache.ModeFull:
		return nil
	default:
		return fmt.Errorf("FINGERPRINT_MODE must be %q or %q, got %q", cache.ModeSummary, cache.ModeFull, cfg.FingerprintMode)
	}
}
