package models

import "time"

// AutomationLedgerEntry 自动化台账表（每个订单至多一条）
type AutomationLedgerEntry struct {
	ID         uint      `gorm:"primarykey" json:"id"`                         // 主键
	OrderID    uint      `gorm:"uniqueIndex;not null" json:"order_id"`         // 订单ID
	PlayerID   string    `gorm:"type:varchar(191);not null" json:"player_id"`  // 玩家ID
	LicenseKey string    `gorm:"type:text;not null" json:"-"`                  // 卡密或卡密组（加密存储）
	Status     string    `gorm:"index;not null" json:"status"`                 // 状态（running/completed/failed）
	RequestID  *string   `gorm:"type:varchar(191);index" json:"request_id"`    // 远端请求ID
	QueueID    *string   `gorm:"type:varchar(191);index" json:"queue_id"`      // 远端队列ID
	Message    string    `gorm:"type:text" json:"message"`                     // 最近一次结果说明
	RecordedAt time.Time `gorm:"index;not null" json:"recorded_at"`            // 记录时间
	UpdatedAt  time.Time `json:"updated_at"`                                   // 更新时间
}

// TableName 指定表名
func (AutomationLedgerEntry) TableName() string {
	return "automation_ledger"
}
