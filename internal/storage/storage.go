// Package storage 定义核心依赖的仓储契约。
//
// 发送端与监控端只面向这里的小接口编程，具体引擎
// （GORM、内存、混合缓存）在进程入口注入，测试用内存实现替换。
// 所有邮件/收件人读取都携带 hub_id，绝不返回其他 Hub 的数据。
package storage

import (
	"errors"

	"hubmail/backend/internal/domain"
)

var (
	// ErrHubNotFound Hub 不存在
	ErrHubNotFound = errors.New("hub not found")
	// ErrEmailNotFound 邮件不存在或不属于该 Hub
	ErrEmailNotFound = errors.New("email not found")
	// ErrRecipientNotFound 收件人不存在或不属于该 Hub
	ErrRecipientNotFound = errors.New("recipient not found")
)

// HubReader Hub 的只读操作。
type HubReader interface {
	// GetHubByID 按 ID 获取 Hub；不存在时返回 ErrHubNotFound。
	GetHubByID(id int32) (*domain.Hub, error)
	// ListHubs 列出全部 Hub。进程启动时调用一次，此后集合冻结。
	ListHubs() ([]domain.Hub, error)
}

// HubWriter Hub 的写操作，核心只会写游标。
type HubWriter interface {
	// SetLastProcessedUID 推进收件游标。
	// 游标单调不减：uid 不大于已存值时为无操作。
	SetLastProcessedUID(hubID, uid int32) error
}

// EmailReader 邮件实体的只读操作，均按 Hub 限定。
type EmailReader interface {
	GetEmailByID(id, hubID int32) (*domain.EmailWithRecipients, error)
	GetRecipientByID(id, hubID int32) (*domain.Recipient, error)
}

// EmailWriter 邮件实体的写操作。
type EmailWriter interface {
	// CreateEmail 插入邮件及其全部收件人（事务内）。
	CreateEmail(email *domain.NewEmail) (*domain.EmailWithRecipients, error)
	// UpdateRecipient 部分更新单个收件人，并在同一事务内
	// 重算父邮件的 num_sent/num_opened/num_replied 计数。
	UpdateRecipient(recipientID int32, upd *domain.UpdateRecipient) error
	// Unsubscribe 幂等插入退订记录：(hub, address) 已存在时为无操作。
	Unsubscribe(hubID int32, address string, reason *string) error
}

// Store 全量仓储，进程入口构造后共享给所有任务，
// 实现必须内部同步（连接池或互斥）。
type Store interface {
	HubReader
	HubWriter
	EmailReader
	EmailWriter
}
