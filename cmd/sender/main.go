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
	"hubmail/backend/internal/mailer"
	"hubmail/backend/internal/monitoring"
	"hubmail/backend/internal/sender"
	"hubmail/backend/internal/storage"
	"hubmail/backend/internal/storage/gormdb"
	"hubmail/backend/internal/storage/hybrid"
	"hubmail/backend/internal/storage/memory"
)

// main 启动投递工作进程：订阅总线任务并经 SMTP 发出。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.FromConfig(cfg.Log)
	defer log.Sync()

	log.Info("starting sender",
		zap.String("domain", cfg.Domain),
		zap.String("sub_endpoint", cfg.ZMQ.EmailerSub),
		zap.Float64("send_rate", cfg.Sender.SendRate))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	// 订阅套接字绑定到信号 ctx，收到退出信号时 Recv 解除阻塞
	subscriber, err := bus.NewSubscriber(ctx, cfg.ZMQ.EmailerSub)
	if err != nil {
		log.Fatal("failed to connect bus", zap.Error(err))
	}
	defer subscriber.Close()

	metrics := monitoring.NewMetrics()
	svc := sender.NewService(sender.Options{
		Store:      store,
		Mailer:     mailer.NewSMTPMailer(cfg.Sender.SendRate, log),
		Subscriber: subscriber,
		Metrics:    metrics,
		Log:        log,
		Domain:     cfg.Domain,
		Workers:    cfg.Sender.Workers,
		QueueSize:  cfg.Sender.QueueSize,
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
		log.Fatal("sender exited with error", zap.Error(err))
	}
	log.Info("sender stopped")
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
