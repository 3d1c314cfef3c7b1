package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hubmail/backend/internal/bus"
	"hubmail/backend/internal/config"
	"hubmail/backend/internal/logger"
	"hubmail/backend/internal/monitor"
	"hubmail/backend/internal/monitoring"
	"hubmail/backend/internal/storage"
	"hubmail/backend/internal/storage/gormdb"
	"hubmail/backend/internal/storage/hybrid"
	"hubmail/backend/internal/storage/memory"
)

// main 启动回复监控工作进程：每个 Hub 一条 IMAP 会话，
// 把关联回复与退订事件落库并发布到总线。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.FromConfig(cfg.Log)
	defer log.Sync()

	log.Info("starting reply monitor",
		zap.String("domain", cfg.Domain),
		zap.String("pub_endpoint", cfg.ZMQ.ReplierPub),
		zap.Duration("backoff", cfg.Monitor.Backoff))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	publisher, err := bus.NewPublisher(ctx, cfg.ZMQ.ReplierPub)
	if err != nil {
		log.Fatal("failed to connect bus", zap.Error(err))
	}
	defer publisher.Close()

	metrics := monitoring.NewMetrics()
	svc := monitor.NewService(monitor.Options{
		Store:       store,
		Publisher:   publisher,
		Metrics:     metrics,
		Log:         log,
		Domain:      cfg.Domain,
		Backoff:     cfg.Monitor.Backoff,
		IdleTimeout: cfg.Monitor.IdleTimeout,
	})

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return monitoring.Serve(ctx, cfg.Metrics.Addr, log)
		})
	}
	g.Go(func() error {
		return svc.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("monitor exited with error", zap.Error(err))
	}
	log.Info("monitor stopped")
}

// buildStore 按配置选择存储引擎
func buildStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "memory" {
		log.Warn("using in-memory storage (development mode)")
		return memory.NewStore(), nil
	}
	if cfg.Redis.Address != "" {
		log.Info("using database storage with redis cache",
			zap.String("type", cfg.Database.Type),
			zap.String("redis", cfg.Redis.Address))
		return hybrid.NewStore(cfg.Database.Type, cfg.Database.DSN,
			cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CacheTTL)
	}
	log.Info("using database storage", zap.String("type", cfg.Database.Type))
	return gormdb.NewStore(cfg.Database.Type, cfg.Database.DSN,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
}
