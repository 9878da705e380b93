package models

import "time"

// Admin 管理员账号，改密时 TokenVersion 递增使已签发 Token 失效
type Admin struct {
	ID                uint       `gorm:"primarykey" json:"id"`
	Username          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash      string     `gorm:"not null" json:"-"`
	TokenVersion      uint64     `gorm:"not null;default:0" json:"-"`
	LastLoginAt       *time.Time `json:"last_login_at"`
	PasswordChangedAt *time.Time `json:"password_changed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (Admin) TableName() string {
	return "admins"
}
