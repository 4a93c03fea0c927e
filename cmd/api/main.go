package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/lendbook/pkg/config"
	"github.com/mcclellann/lendbook/pkg/logger"
	"github.com/mcclellann/lendbook/pkg/metrics"
	"github.com/mcclellann/lendbook/pkg/store"
)

// openStore builds the configured backend, wrapped in a read-through cache
// when a TTL is set.
func openStore(cfg *config.Config) (store.Storage, error) {
	var s store.Storage
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := store.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		s = store.NewRedisStore(rdb)
	default:
		sqliteStore, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s = sqliteStore
	}
	if cfg.CacheTTL > 0 {
		s = store.NewCachedStore(s, cfg.CacheTTL)
	}
	return s, nil
}

// runOverdueScan republishes the overdue figures until ctx is done. It only
// reads the book.
func (s *Server) runOverdueScan(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.ledger.ScanOverdue(ctx)
		}
	}
}

func main() {
	cfg := config.Load()
	log := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	storage, err := openStore(cfg)
	if err != nil {
		log.Error("failed to initialize store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	server := NewServer(storage, metrics.New(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SeedSampleData {
		if _, err := server.ledger.Seed(ctx, false); err != nil {
			log.Error("failed to seed sample data", "error", err)
		}
	}
	if _, err := server.ledger.ScanOverdue(ctx); err != nil {
		log.Warn("initial overdue scan failed", "error", err)
	}
	go server.runOverdueScan(ctx, cfg.OverdueScanInterval)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", srv.Addr, "backend", cfg.StoreBackend, "cache_ttl", cfg.CacheTTL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
