package models

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// LicenseKey 卡密池表（单卡密与卡密组成员共用）
type LicenseKey struct {
	ID                uint           `gorm:"primarykey" json:"id"`                                          // 主键
	Code              string         `gorm:"column:license_key;type:text;not null" json:"-"`                // 卡密内容（加密存储）
	CodeHash          string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`                // 卡密摘要（唯一约束）
	ProductIDs        string         `gorm:"type:text" json:"product_ids"`                                  // 适用商品（,5,7, 形式，空表示全部）
	Status            string         `gorm:"index;not null" json:"status"`                                  // 状态（unused/used）
	OrderID           *uint          `gorm:"index" json:"order_id,omitempty"`                               // 关联订单ID
	IsGroupProduct    bool           `gorm:"not null;default:false;index" json:"is_group_product"`          // 是否卡密组成员
	GroupID           *string        `gorm:"type:varchar(36);index" json:"group_id,omitempty"`              // 卡密组ID
	GroupName         string         `gorm:"type:varchar(191)" json:"group_name,omitempty"`                 // 卡密组名称
	GroupLicenseCount int            `gorm:"not null;default:3" json:"group_license_count"`                 // 卡密组容量
	UsedAt            *time.Time     `gorm:"index" json:"used_at"`                                          // 使用时间
	CreatedAt         time.Time      `gorm:"index" json:"created_at"`                                       // 创建时间
	UpdatedAt         time.Time      `json:"updated_at"`                                                    // 更新时间
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`                                                // 软删除时间
}

// TableName 指定表名
func (LicenseKey) TableName() string {
	return "license_keys"
}

// AppliesTo 判断卡密是否适用于指定商品
func (k LicenseKey) AppliesTo(productID uint) bool {
	scope := strings.TrimSpace(k.ProductIDs)
	if scope == "" {
		return true
	}
	return strings.Contains(scope, ProductScopeToken(productID))
}

// FormatProductScope 将商品ID集合格式化为 ,5,7, 形式，空集合表示全部商品
func FormatProductScope(productIDs []uint) string {
	seen := make(map[uint]struct{}, len(productIDs))
	ids := make([]uint, 0, len(productIDs))
	for _, id := range productIDs {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}
	return "," + strings.Join(parts, ",") + ","
}

// ParseProductScope 解析商品范围字符串
func ParseProductScope(scope string) []uint {
	result := make([]uint, 0)
	for _, part := range strings.Split(scope, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		result = append(result, uint(id))
	}
	return result
}

// ProductScopeToken 返回用于 LIKE 匹配的商品片段
func ProductScopeToken(productID uint) string {
	return "," + strconv.FormatUint(uint64(productID), 10) + ","
}
