package models

import "time"

// Account 下单账号表
type Account struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Email     string    `gorm:"type:varchar(191);index" json:"email"`
	MetaJSON  JSON      `gorm:"type:json" json:"meta"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Account) TableName() string {
	return "accounts"
}
