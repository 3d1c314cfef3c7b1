// Package monitoring Prometheus 指标采集与暴露。
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics 两个工作进程共用的指标集合
type Metrics struct {
	// 发送端指标
	JobsReceived  *prometheus.CounterVec // 按任务类型（retry/new）计数
	JobsFailed    *prometheus.CounterVec
	EmailsSent    prometheus.Counter
	EmailsFailed  prometheus.Counter
	EmailsSkipped prometheus.Counter // 已发送记录的去重跳过
	SendDuration  prometheus.Histogram

	// 监控端指标
	RepliesDetected   prometheus.Counter
	Unsubscribes      prometheus.Counter
	MessagesIgnored   prometheus.Counter
	IMAPReconnects    *prometheus.CounterVec // 按 hub_id 计数
	MessagesProcessed prometheus.Counter

	// 总线指标
	BusMessagesReceived  prometheus.Counter
	BusMessagesPublished prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建并注册指标（promauto 注册到默认注册表）
func NewMetrics() *Metrics {
	return &Metrics{
		JobsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubmail_jobs_received_total",
				Help: "Total number of send jobs received from the bus",
			},
			[]string{"type"},
		),
		JobsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubmail_jobs_failed_total",
				Help: "Total number of send jobs that failed fatally",
			},
			[]string{"type"},
		),
		EmailsSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_emails_sent_total",
				Help: "Total number of emails delivered via SMTP",
			},
		),
		EmailsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_emails_failed_total",
				Help: "Total number of per-recipient delivery failures",
			},
		),
		EmailsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_emails_skipped_total",
				Help: "Total number of recipients skipped because already sent",
			},
		),
		SendDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hubmail_send_duration_seconds",
				Help:    "SMTP delivery duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RepliesDetected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_replies_detected_total",
				Help: "Total number of correlated replies detected",
			},
		),
		Unsubscribes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_unsubscribes_total",
				Help: "Total number of unsubscribe or bounce messages processed",
			},
		),
		MessagesIgnored: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_messages_ignored_total",
				Help: "Total number of inbound messages ignored",
			},
		),
		IMAPReconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubmail_imap_reconnects_total",
				Help: "Total number of IMAP session restarts",
			},
			[]string{"hub_id"},
		),
		MessagesProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_messages_processed_total",
				Help: "Total number of inbound messages fetched and classified",
			},
		),
		BusMessagesReceived: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_bus_messages_received_total",
				Help: "Total number of messages received from the bus",
			},
		),
		BusMessagesPublished: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_bus_messages_published_total",
				Help: "Total number of events published to the bus",
			},
		),
		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hubmail_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// Serve 在独立端口暴露 /metrics，ctx 取消后优雅关闭
func Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
