// Package mailer 抽象 SMTP 投递：隐式 TLS、按 Hub 凭据认证、
// 每次调用一个收件人。
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hubmail/backend/internal/domain"
)

// Mailer 单操作投递契约。
//
// 生产实现按 Hub 凭据在发送时建立隐式 TLS SMTP 连接；
// 测试注入假实现。失败以单一错误返回，调用方在一次投递任务内不重试。
type Mailer interface {
	Send(ctx context.Context, hub *domain.Hub, to string, raw []byte) error
}

// SMTPMailer 基于隐式 TLS 的生产投递实现。
type SMTPMailer struct {
	limiter *rate.Limiter // 全局出站限速，nil 表示不限速
	log     *zap.Logger
}

// NewSMTPMailer 创建 SMTP 投递器。
//
// sendRate 为每秒允许的出站邮件数，<= 0 表示不限速。
func NewSMTPMailer(sendRate float64, log *zap.Logger) *SMTPMailer {
	var limiter *rate.Limiter
	if sendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(sendRate), 1)
	}
	return &SMTPMailer{limiter: limiter, log: log}
}

// Send 实现 Mailer。
//
// 连接使用隐式 TLS（证书校验开启），认证使用 Hub 的 SMTP 登录凭据，
// 单次调用仅产生一个 RCPT TO。
func (m *SMTPMailer) Send(ctx context.Context, hub *domain.Hub, to string, raw []byte) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", hub.SMTPServer, hub.SMTPPort)
	client, err := smtp.DialTLS(addr, &tls.Config{ServerName: hub.SMTPServer})
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Auth(sasl.NewPlainClient("", hub.SMTPLogin, hub.SMTPPassword)); err != nil {
		return fmt.Errorf("smtp auth for hub %d: %w", hub.ID, err)
	}

	if err := client.SendMail(hub.Sender, []string{to}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}

	if err := client.Quit(); err != nil {
		// 投递已完成，挥手失败只记录
		m.log.Warn("smtp quit failed", zap.Int32("hub_id", hub.ID), zap.Error(err))
	}

	return nil
}
