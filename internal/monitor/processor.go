// Package monitor 实现回复监控工作进程：每个 Hub 一条 IMAP 会话，
// 抓取新邮件、分类并落库，再把结构化事件发布到总线。
package monitor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"hubmail/backend/internal/bus"
	"hubmail/backend/internal/domain"
	"hubmail/backend/internal/monitoring"
	"hubmail/backend/internal/parser"
	"hubmail/backend/internal/storage"
)

// Processor 把单封入站邮件的分类结果落为状态变更与总线事件。
//
// 所有写入幂等：同一封邮件重复处理得到同样的终态，
// 这让游标推进失败后的重抓是安全的。
type Processor struct {
	store   storage.Store
	pub     bus.Publisher
	metrics *monitoring.Metrics
	log     *zap.Logger
	domain  string
}

// NewProcessor 创建处理器
func NewProcessor(store storage.Store, pub bus.Publisher, metrics *monitoring.Metrics, log *zap.Logger, domain string) *Processor {
	return &Processor{
		store:   store,
		pub:     pub,
		metrics: metrics,
		log:     log,
		domain:  domain,
	}
}

// Process 分类并处理一封邮件。
//
// 返回错误仅代表仓储故障，调用方应中止本轮抓取并保持游标不动；
// 解析失败、关联不上、发布失败都不是错误。
func (p *Processor) Process(hub *domain.Hub, raw []byte) error {
	result := parser.Parse(raw, p.domain)

	switch result.Kind {
	case parser.KindUnsubscribe:
		return p.processUnsubscribe(hub, result)
	case parser.KindReply:
		return p.processReply(hub, result)
	default:
		p.metrics.MessagesIgnored.Inc()
		p.log.Debug("inbound message ignored",
			zap.Int32("hub_id", hub.ID),
			zap.String("subject", result.Subject))
		return nil
	}
}

// processUnsubscribe 幂等登记退订，不改动任何收件人记录
func (p *Processor) processUnsubscribe(hub *domain.Hub, result parser.Result) error {
	var reason *string
	if result.Reason != "" {
		reason = &result.Reason
	}
	if err := p.store.Unsubscribe(hub.ID, result.Sender, reason); err != nil {
		return fmt.Errorf("record unsubscribe for %s: %w", result.Sender, err)
	}
	p.metrics.Unsubscribes.Inc()

	if err := p.pub.Publish(domain.ZMQUnsubscribeMessage{
		HubID:  hub.ID,
		Email:  result.Sender,
		Reason: reason,
	}); err != nil {
		// 发布尽力而为，状态已落库
		p.log.Warn("publish unsubscribe event failed",
			zap.Int32("hub_id", hub.ID), zap.Error(err))
	} else {
		p.metrics.BusMessagesPublished.Inc()
	}

	p.log.Info("unsubscribe recorded",
		zap.Int32("hub_id", hub.ID),
		zap.String("address", result.Sender))
	return nil
}

// processReply 关联回复：收件人标记三个状态位并存回复正文。
//
// 关联不到本 Hub 的收件人时按忽略处理。收到回复本身就证明
// 邮件送达且被打开，is_sent/opened 随 replied 一并置位。
func (p *Processor) processReply(hub *domain.Hub, result parser.Result) error {
	recipient, err := p.store.GetRecipientByID(result.RecipientID, hub.ID)
	if err != nil {
		if errors.Is(err, storage.ErrRecipientNotFound) {
			p.metrics.MessagesIgnored.Inc()
			p.log.Debug("reply token does not match any recipient",
				zap.Int32("hub_id", hub.ID),
				zap.Int32("recipient_id", result.RecipientID))
			return nil
		}
		return fmt.Errorf("load recipient %d: %w", result.RecipientID, err)
	}

	flag := true
	upd := &domain.UpdateRecipient{
		IsSent:  &flag,
		Opened:  &flag,
		Replied: &flag,
		Reply:   parser.ValidatedReply(result.Reply),
	}
	if err := p.store.UpdateRecipient(recipient.ID, upd); err != nil {
		return fmt.Errorf("update recipient %d: %w", recipient.ID, err)
	}
	p.metrics.RepliesDetected.Inc()

	var subject *string
	if result.Subject != "" {
		subject = &result.Subject
	}
	if err := p.pub.Publish(domain.ZMQReplyMessage{
		HubID:   hub.ID,
		Email:   recipient.Address,
		Message: result.Reply,
		Subject: subject,
	}); err != nil {
		p.log.Warn("publish reply event failed",
			zap.Int32("hub_id", hub.ID), zap.Error(err))
	} else {
		p.metrics.BusMessagesPublished.Inc()
	}

	p.log.Info("reply recorded",
		zap.Int32("hub_id", hub.ID),
		zap.Int32("recipient_id", recipient.ID),
		zap.String("address", recipient.Address))
	return nil
}
