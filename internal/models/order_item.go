package models

import "time"

// OrderItem 订单项表
type OrderItem struct {
	ID          uint      `gorm:"primarykey" json:"id"`                   // 主键
	OrderID     uint      `gorm:"index;not null" json:"order_id"`         // 订单ID
	ProductID   uint      `gorm:"index;not null" json:"product_id"`       // 商品ID
	VariationID uint      `gorm:"index;default:0" json:"variation_id"`    // 规格ID（无规格为 0）
	Quantity    int       `gorm:"not null;default:1" json:"quantity"`     // 数量
	MetaJSON    JSON      `gorm:"type:json" json:"meta"`                  // 订单项元数据
	CreatedAt   time.Time `gorm:"index" json:"created_at"`                // 创建时间
}

// TableName 指定表名
func (OrderItem) TableName() string {
	return "order_items"
}

// EffectiveProductID 有规格时返回规格ID，否则返回商品ID
func (i OrderItem) EffectiveProductID() uint {
	if i.VariationID != 0 {
		return i.VariationID
	}
	return i.ProductID
}
