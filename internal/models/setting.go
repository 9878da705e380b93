package models

import "time"

// Setting 键值设置表，自动化商品配置等运行时可改的项存放于此
type Setting struct {
	Key       string    `gorm:"primarykey;type:varchar(128)" json:"key"`
	ValueJSON JSON      `gorm:"type:json" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Setting) TableName() string {
	return "settings"
}
