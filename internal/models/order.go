package models

import "time"

// Order 订单表（外部订单存储的适配模型）
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`           // 主键
	UserID    uint      `gorm:"index" json:"user_id,omitempty"` // 下单账号ID（游客为 0）
	Status    string    `gorm:"index;not null" json:"status"`   // 订单状态
	MetaJSON  JSON      `gorm:"type:json" json:"meta"`          // 订单元数据
	CreatedAt time.Time `gorm:"index" json:"created_at"`        // 创建时间
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`        // 更新时间

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"` // 订单项
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

// ProductIDs 返回订单项的有效商品ID（优先规格ID），保持订单项顺序
func (o Order) ProductIDs() []uint {
	ids := make([]uint, 0, len(o.Items))
	for _, item := range o.Items {
		if id := item.EffectiveProductID(); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
