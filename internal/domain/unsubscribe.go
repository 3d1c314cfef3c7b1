package domain

import "time"

// Unsubscribe 退订记录，键为 (HubID, Address)。
//
// 退订表只增不改：对同一键的重复插入是无操作而非错误。
// 本核心从不依据退订表修改 Recipient 行，
// 其他服务在发送前应自行查询该表。
type Unsubscribe struct {
	ID        int32     `json:"id" gorm:"primaryKey"`
	HubID     int32     `json:"hub_id" gorm:"uniqueIndex:idx_unsub_hub_address;not null"`
	Address   string    `json:"address" gorm:"type:varchar(255);uniqueIndex:idx_unsub_hub_address;not null"`
	Reason    *string   `json:"reason,omitempty" gorm:"type:varchar(500)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定 GORM 表名
func (Unsubscribe) TableName() string {
	return "unsubscribes"
}
