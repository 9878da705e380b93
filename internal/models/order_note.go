package models

import "time"

// OrderNote 订单备注表（状态回写的可读说明）
type OrderNote struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	OrderID   uint      `gorm:"index;not null" json:"order_id"`
	Status    string    `gorm:"type:varchar(32)" json:"status"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (OrderNote) TableName() string {
	return "order_notes"
}
