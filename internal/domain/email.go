package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Email 表示一次群发任务：一条正文模板加若干收件人。
//
// NumSent/NumOpened/NumReplied 为聚合计数，
// 在任意收件人记录变更时由存储层事务内重算。
type Email struct {
	ID      int32  `json:"id" gorm:"primaryKey"`
	HubID   int32  `json:"hub_id" gorm:"index;not null"`
	Subject string `json:"subject" gorm:"type:varchar(500)"`
	// Message 渲染前的正文模板，占位符从收件人 Fields 取值。
	Message        string    `json:"message" gorm:"type:text"`
	Attachment     []byte    `json:"attachment,omitempty"`
	AttachmentName string    `json:"attachment_name,omitempty" gorm:"type:varchar(255)"`
	AttachmentMime string    `json:"attachment_mime,omitempty" gorm:"type:varchar(100)"`
	NumSent        int       `json:"num_sent" gorm:"default:0"`
	NumOpened      int       `json:"num_opened" gorm:"default:0"`
	NumReplied     int       `json:"num_replied" gorm:"default:0"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName 指定 GORM 表名
func (Email) TableName() string {
	return "emails"
}

// HasAttachment 判断该邮件是否携带有效附件。
func (e *Email) HasAttachment() bool {
	return len(e.Attachment) > 0 && e.AttachmentName != ""
}

// FieldMap 收件人模板变量，以 JSON 文本形式入库。
type FieldMap map[string]string

// Value 实现 driver.Valuer
func (m FieldMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (m *FieldMap) Scan(value interface{}) error {
	if value == nil {
		*m = FieldMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type for FieldMap: %T", value)
	}
}

// Recipient 表示单个收件人记录。
//
// ID 是贯穿出站与入站的关联令牌：出站 Message-ID 的本地部分
// 就是该 ID，入站 In-Reply-To 解析回来后据此定位记录。
type Recipient struct {
	ID      int32    `json:"id" gorm:"primaryKey"`
	EmailID int32    `json:"email_id" gorm:"index;not null"`
	Address string   `json:"address" gorm:"type:varchar(255);not null"`
	Name    string   `json:"name" gorm:"type:varchar(255)"`
	Fields  FieldMap `json:"fields" gorm:"type:text"`
	IsSent  bool     `json:"is_sent" gorm:"default:false"`
	Opened  bool     `json:"opened" gorm:"default:false"`
	Replied bool     `json:"replied" gorm:"default:false;index"`
	Reply   *string  `json:"reply,omitempty" gorm:"type:text"`
	// UpdatedAt 每次状态变更时由存储层刷新。
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定 GORM 表名
func (Recipient) TableName() string {
	return "email_recipients"
}

// EmailWithRecipients 邮件及其全部收件人的聚合视图。
type EmailWithRecipients struct {
	Email      Email       `json:"email"`
	Recipients []Recipient `json:"recipients"`
}

// NewRecipient 创建收件人时的输入。
type NewRecipient struct {
	Address string   `json:"address"`
	Name    string   `json:"name"`
	Fields  FieldMap `json:"fields"`
}

// NewEmail 创建邮件时的输入，收件人随邮件一并创建，之后不再追加。
type NewEmail struct {
	HubID          int32          `json:"hub_id"`
	Subject        string         `json:"subject"`
	Message        string         `json:"message"`
	Attachment     []byte         `json:"attachment,omitempty"`
	AttachmentName string         `json:"attachment_name,omitempty"`
	AttachmentMime string         `json:"attachment_mime,omitempty"`
	Recipients     []NewRecipient `json:"recipients"`
}

// UpdateRecipient 收件人的部分更新；nil 字段保持原值。
type UpdateRecipient struct {
	IsSent  *bool
	Opened  *bool
	Replied *bool
	Reply   *string
}
