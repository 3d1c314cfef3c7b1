// Package sender 实现投递工作进程的核心循环。
//
// 循环从总线收投递任务，解码后交给协程池并发处理；
// 每个任务独立加载数据、渲染正文、组装报文并逐收件人投递。
// 仓储故障对单个任务是致命的，投递故障只影响当前收件人。
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hubmail/backend/internal/bus"
	"hubmail/backend/internal/domain"
	"hubmail/backend/internal/mailer"
	"hubmail/backend/internal/message"
	"hubmail/backend/internal/monitoring"
	"hubmail/backend/internal/pool"
	"hubmail/backend/internal/storage"
	"hubmail/backend/internal/template"
)

// Options 发送端服务的构建参数
type Options struct {
	Store      storage.Store
	Mailer     mailer.Mailer
	Subscriber bus.Subscriber
	Metrics    *monitoring.Metrics
	Log        *zap.Logger
	Domain     string // 公开域名，进入 Message-ID 与追踪像素
	Workers    int
	QueueSize  int
}

// Service 发送端服务
type Service struct {
	store   storage.Store
	mailer  mailer.Mailer
	sub     bus.Subscriber
	metrics *monitoring.Metrics
	log     *zap.Logger
	domain  string
	workers int
	queue   int
}

// NewService 创建发送端服务
func NewService(opts Options) *Service {
	return &Service{
		store:   opts.Store,
		mailer:  opts.Mailer,
		sub:     opts.Subscriber,
		metrics: opts.Metrics,
		log:     opts.Log,
		domain:  opts.Domain,
		workers: opts.Workers,
		queue:   opts.QueueSize,
	}
}

// Run 运行接收循环直到 ctx 取消或总线故障。
//
// 单条消息解码失败只记录告警后丢弃；传输层错误返回给调用方，
// 由进程入口决定退出。
func (s *Service) Run(ctx context.Context) error {
	workers := pool.NewWorkerPool(s.workers, s.queue, s.log)
	workers.OnPanic(s.metrics.PanicsTotal.Inc)
	workers.Start(ctx)
	defer workers.Stop()

	s.log.Info("sender started",
		zap.String("domain", s.domain),
		zap.Int("workers", s.workers))

	for {
		data, err := s.sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bus receive: %w", err)
		}
		s.metrics.BusMessagesReceived.Inc()

		var job domain.SendEmailJob
		if err := json.Unmarshal(data, &job); err != nil {
			s.log.Warn("malformed job dropped", zap.Error(err))
			continue
		}

		jobID := uuid.NewString()
		s.log.Info("job received", zap.String("job_id", jobID))
		workers.Submit(func() {
			s.HandleJob(ctx, jobID, &job)
		})
	}
}

// HandleJob 处理单个投递任务
func (s *Service) HandleJob(ctx context.Context, jobID string, job *domain.SendEmailJob) {
	switch {
	case job.Retry != nil:
		s.metrics.JobsReceived.WithLabelValues("retry").Inc()
		if err := s.handleRetry(ctx, job.Retry); err != nil {
			s.metrics.JobsFailed.WithLabelValues("retry").Inc()
			s.log.Error("retry job failed",
				zap.String("job_id", jobID),
				zap.Int32("email_id", job.Retry.EmailID),
				zap.Int32("hub_id", job.Retry.HubID),
				zap.Error(err))
		}
	case job.New != nil:
		s.metrics.JobsReceived.WithLabelValues("new").Inc()
		if err := s.handleNew(ctx, job.New); err != nil {
			s.metrics.JobsFailed.WithLabelValues("new").Inc()
			s.log.Error("new email job failed",
				zap.String("job_id", jobID),
				zap.Int32("hub_id", job.New.Email.HubID),
				zap.Error(err))
		}
	default:
		s.log.Warn("empty job dropped", zap.String("job_id", jobID))
	}
}

// handleRetry 重发既有邮件：只读取，已发送的收件人被跳过
func (s *Service) handleRetry(ctx context.Context, job *domain.RetryEmailJob) error {
	hub, err := s.store.GetHubByID(job.HubID)
	if err != nil {
		return fmt.Errorf("load hub %d: %w", job.HubID, err)
	}
	email, err := s.store.GetEmailByID(job.EmailID, job.HubID)
	if err != nil {
		return fmt.Errorf("load email %d: %w", job.EmailID, err)
	}
	return s.deliver(ctx, hub, &email.Email, email.Recipients)
}

// handleNew 落库后投递新邮件
func (s *Service) handleNew(ctx context.Context, job *domain.NewEmailJob) error {
	hub, err := s.store.GetHubByID(job.Email.HubID)
	if err != nil {
		return fmt.Errorf("load hub %d: %w", job.Email.HubID, err)
	}
	created, err := s.store.CreateEmail(&job.Email)
	if err != nil {
		return fmt.Errorf("create email: %w", err)
	}
	return s.deliver(ctx, hub, &created.Email, created.Recipients)
}

// deliver 逐收件人渲染、组装并投递。
//
// 投递失败只跳过当前收件人；发送成功后标记 is_sent 失败
// 则中止整个任务，避免状态与事实脱节后继续放大。
func (s *Service) deliver(ctx context.Context, hub *domain.Hub, email *domain.Email, recipients []domain.Recipient) error {
	var attachment *message.Attachment
	if email.HasAttachment() {
		attachment = &message.Attachment{
			Content:  email.Attachment,
			Filename: email.AttachmentName,
			MimeType: email.AttachmentMime,
		}
	}

	for i := range recipients {
		recipient := &recipients[i]
		if recipient.IsSent {
			s.metrics.EmailsSkipped.Inc()
			s.log.Debug("recipient already sent, skipping",
				zap.Int32("recipient_id", recipient.ID))
			continue
		}

		body := template.RenderBody(hub.EmailTemplate, email.Message,
			recipient.Fields, recipient.Name, hub.UnsubscribeURL())

		raw, err := message.Build(message.BuildInput{
			Sender:         hub.Sender,
			RecipientID:    recipient.ID,
			RecipientName:  recipient.Name,
			RecipientAddr:  recipient.Address,
			Subject:        email.Subject,
			HTMLBody:       body,
			Domain:         s.domain,
			UnsubscribeURL: hub.UnsubscribeURL(),
			Attachment:     attachment,
		})
		if err != nil {
			s.metrics.EmailsFailed.Inc()
			s.log.Error("message build failed",
				zap.Int32("recipient_id", recipient.ID),
				zap.Error(err))
			continue
		}

		start := time.Now()
		err = s.mailer.Send(ctx, hub, recipient.Address, raw)
		s.metrics.SendDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.EmailsFailed.Inc()
			s.log.Error("delivery failed",
				zap.Int32("hub_id", hub.ID),
				zap.Int32("recipient_id", recipient.ID),
				zap.String("address", recipient.Address),
				zap.Error(err))
			continue
		}
		s.metrics.EmailsSent.Inc()

		sent := true
		if err := s.store.UpdateRecipient(recipient.ID, &domain.UpdateRecipient{IsSent: &sent}); err != nil {
			return fmt.Errorf("mark recipient %d sent: %w", recipient.ID, err)
		}

		s.log.Info("email sent",
			zap.Int32("hub_id", hub.ID),
			zap.Int32("email_id", email.ID),
			zap.Int32("recipient_id", recipient.ID))
	}

	return nil
}
