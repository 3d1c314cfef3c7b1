package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hubmail/backend/internal/bus"
	"hubmail/backend/internal/monitoring"
	"hubmail/backend/internal/storage"
)

// Options 监控端服务的构建参数
type Options struct {
	Store       storage.Store
	Publisher   bus.Publisher
	Metrics     *monitoring.Metrics
	Log         *zap.Logger
	Domain      string // 公开域名，用于回复关联与退订识别
	Backoff     time.Duration
	IdleTimeout time.Duration
}

// Service 监控端服务：启动时为每个 Hub 开一条守护协程，
// 会话失败后按固定间隔重建。Hub 集合启动后冻结，
// 凭据与游标在每次重连时重新读取。
type Service struct {
	store       storage.Store
	pub         bus.Publisher
	metrics     *monitoring.Metrics
	log         *zap.Logger
	domain      string
	backoff     time.Duration
	idleTimeout time.Duration
}

// NewService 创建监控端服务
func NewService(opts Options) *Service {
	return &Service{
		store:       opts.Store,
		pub:         opts.Publisher,
		metrics:     opts.Metrics,
		log:         opts.Log,
		domain:      opts.Domain,
		backoff:     opts.Backoff,
		idleTimeout: opts.IdleTimeout,
	}
}

// Run 运行监控循环直到 ctx 取消
func (s *Service) Run(ctx context.Context) error {
	hubs, err := s.store.ListHubs()
	if err != nil {
		return fmt.Errorf("list hubs: %w", err)
	}
	if len(hubs) == 0 {
		s.log.Warn("no hubs configured, nothing to monitor")
		<-ctx.Done()
		return nil
	}

	s.log.Info("monitor started",
		zap.Int("hubs", len(hubs)),
		zap.Duration("backoff", s.backoff))

	proc := NewProcessor(s.store, s.pub, s.metrics, s.log, s.domain)

	g, ctx := errgroup.WithContext(ctx)
	for _, hub := range hubs {
		hubID := hub.ID
		g.Go(func() error {
			s.watchHub(ctx, proc, hubID)
			return nil
		})
	}
	return g.Wait()
}

// watchHub 单个 Hub 的重启循环。
//
// 每轮先从仓储重取 Hub（拿最新凭据与游标），再跑一条会话；
// 会话以任何方式结束都等待 backoff 后重来，绝不紧循环。
// Hub 记录消失时同样等待重试，不退出。
func (s *Service) watchHub(ctx context.Context, proc *Processor, hubID int32) {
	log := s.log.With(zap.Int32("hub_id", hubID))

	for {
		if ctx.Err() != nil {
			return
		}

		hub, err := s.store.GetHubByID(hubID)
		if err != nil {
			log.Error("hub lookup failed", zap.Error(err))
			if !sleepCtx(ctx, s.backoff) {
				return
			}
			continue
		}

		sess := newSession(hub, s.store, proc, s.metrics, log, s.idleTimeout)
		if err := sess.run(ctx); err != nil {
			log.Error("imap session failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		s.metrics.IMAPReconnects.WithLabelValues(strconv.FormatInt(int64(hubID), 10)).Inc()
		if !sleepCtx(ctx, s.backoff) {
			return
		}
	}
}

// sleepCtx 可取消的等待；ctx 先结束时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
