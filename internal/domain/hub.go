package domain

import "fmt"

// Hub 表示一个租户：拥有独立的 SMTP/IMAP 凭据、外层邮件模板
// 以及收件游标。Hub 集合在进程启动时一次性加载，运行期间只读
// （LastProcessedUID 除外，由监控协程单调推进）。
type Hub struct {
	ID           int32  `json:"id" gorm:"primaryKey"`
	Sender       string `json:"sender" gorm:"type:varchar(255)"` // 发件人地址，作为 From 头
	SMTPServer   string `json:"smtp_server" gorm:"type:varchar(255)"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPLogin    string `json:"smtp_login" gorm:"type:varchar(255)"`
	SMTPPassword string `json:"-" gorm:"type:varchar(255)"`
	IMAPServer   string `json:"imap_server" gorm:"type:varchar(255)"`
	IMAPPort     int    `json:"imap_port"`
	IMAPLogin    string `json:"imap_login" gorm:"type:varchar(255)"`
	IMAPPassword string `json:"-" gorm:"type:varchar(255)"`
	// EmailTemplate 外层邮件模板，包含 {message}/{name}/{unsubscribe_url} 占位符。
	// 为空时等效于 "{message}"。
	EmailTemplate string `json:"email_template" gorm:"type:text"`
	// LastProcessedUID 该 Hub 收件箱中已处理的最大 IMAP UID，只增不减。
	LastProcessedUID int32 `json:"last_processed_uid" gorm:"default:0"`
}

// TableName 指定 GORM 表名
func (Hub) TableName() string {
	return "hubs"
}

// UnsubscribeURL 返回该 Hub 的公开退订地址。
//
// 地址由发件人地址派生，保证对同一 Hub 确定性，
// 用于出站邮件的 List-Unsubscribe 头和 {unsubscribe_url} 占位符。
func (h *Hub) UnsubscribeURL() string {
	return fmt.Sprintf("mailto:%s?subject=unsubscribe", h.Sender)
}
