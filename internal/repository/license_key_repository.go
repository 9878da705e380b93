package repository

import (
	"context"
	"errors"
	"time"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LicenseKeyRepository 卡密池数据访问接口
type LicenseKeyRepository interface {
	Create(ctx context.Context, keys []models.LicenseKey) error
	ExistingHashes(ctx context.Context, hashes []string) ([]string, error)
	GetByHash(ctx context.Context, hash string) (*models.LicenseKey, error)
	FindSingleCandidates(ctx context.Context, productID uint, limit int) ([]models.LicenseKey, error)
	ClaimSingle(ctx context.Context, id, orderID uint, usedAt time.Time) (bool, error)
	FindGroupCandidates(ctx context.Context, productID uint, limit int) ([]string, error)
	ListGroupMembers(ctx context.Context, groupID, status string) ([]models.LicenseKey, error)
	ClaimGroupMembers(ctx context.Context, groupID string, ids []uint, orderID uint, usedAt time.Time) (int64, error)
	MarkSingleUsedByHash(ctx context.Context, hash string, orderID uint, usedAt time.Time) (int64, error)
	MarkGroupUsed(ctx context.Context, groupID string, orderID uint, usedAt time.Time) (int64, error)
	CountSinglesByStatus(ctx context.Context) (map[string]int64, error)
	ListGroupUsage(ctx context.Context) ([]LicenseGroupUsage, error)
	List(ctx context.Context, filter LicenseKeyListFilter) ([]models.LicenseKey, int64, error)
	Delete(ctx context.Context, id uint) error
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) *GormLicenseKeyRepository
}

// LicenseGroupUsage 卡密组成员使用情况
type LicenseGroupUsage struct {
	GroupID       string
	MemberCount   int64
	UnusedMembers int64
}

// GormLicenseKeyRepository GORM 实现
type GormLicenseKeyRepository struct {
	db *gorm.DB
}

// NewLicenseKeyRepository 创建卡密池仓库
func NewLicenseKeyRepository(db *gorm.DB) *GormLicenseKeyRepository {
	return &GormLicenseKeyRepository{db: db}
}

// WithTx 绑定事务
func (r *GormLicenseKeyRepository) WithTx(tx *gorm.DB) *GormLicenseKeyRepository {
	if tx == nil {
		return r
	}
	return &GormLicenseKeyRepository{db: tx}
}

// Transaction 在事务中执行
func (r *GormLicenseKeyRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

// Create 批量写入卡密
func (r *GormLicenseKeyRepository) Create(ctx context.Context, keys []models.LicenseKey) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&keys).Error
}

// ExistingHashes 返回已存在的卡密摘要（包含已软删除记录）
func (r *GormLicenseKeyRepository) ExistingHashes(ctx context.Context, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return []string{}, nil
	}
	var found []string
	if err := r.db.WithContext(ctx).Unscoped().
		Model(&models.LicenseKey{}).
		Where("code_hash IN ?", hashes).
		Pluck("code_hash", &found).Error; err != nil {
		return nil, err
	}
	return found, nil
}

// GetByHash 按摘要获取卡密
func (r *GormLicenseKeyRepository) GetByHash(ctx context.Context, hash string) (*models.LicenseKey, error) {
	var key models.LicenseKey
	if err := r.db.WithContext(ctx).Where("code_hash = ?", hash).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// FindSingleCandidates 按创建时间获取可分配的单卡密
func (r *GormLicenseKeyRepository) FindSingleCandidates(ctx context.Context, productID uint, limit int) ([]models.LicenseKey, error) {
	if limit <= 0 {
		limit = 1
	}
	query := r.db.WithContext(ctx).
		Where("is_group_product = ? AND status = ?", false, constants.LicenseKeyStatusUnused)
	query = applyProductScope(query, productID)
	if supportsSkipLocked(r.db) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var keys []models.LicenseKey
	if err := query.Order("created_at asc, id asc").Limit(limit).Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// ClaimSingle 条件更新单卡密为已使用，返回是否抢占成功
func (r *GormLicenseKeyRepository) ClaimSingle(ctx context.Context, id, orderID uint, usedAt time.Time) (bool, error) {
	if id == 0 {
		return false, nil
	}
	result := r.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Where("id = ? AND status = ?", id, constants.LicenseKeyStatusUnused).
		Updates(usedColumns(orderID, usedAt))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindGroupCandidates 按组内最早创建时间获取仍有可用成员的卡密组
func (r *GormLicenseKeyRepository) FindGroupCandidates(ctx context.Context, productID uint, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	type groupRow struct {
		GroupID string
	}
	query := r.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Select("group_id").
		Where("is_group_product = ? AND group_id IS NOT NULL", true)
	query = applyProductScope(query, productID)

	var rows []groupRow
	if err := query.
		Group("group_id").
		Having("SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) > 0", constants.LicenseKeyStatusUnused).
		Order("MIN(created_at) asc, MIN(id) asc").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.GroupID != "" {
			ids = append(ids, row.GroupID)
		}
	}
	return ids, nil
}

// ListGroupMembers 获取卡密组成员，status 为空时返回全部
func (r *GormLicenseKeyRepository) ListGroupMembers(ctx context.Context, groupID, status string) ([]models.LicenseKey, error) {
	if groupID == "" {
		return []models.LicenseKey{}, nil
	}
	query := r.db.WithContext(ctx).Where("group_id = ?", groupID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if status == constants.LicenseKeyStatusUnused && supportsSkipLocked(r.db) {
		// 组作为整体分配，这里等待锁而不是跳过
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var members []models.LicenseKey
	if err := query.Order("created_at asc, id asc").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// ClaimGroupMembers 条件更新卡密组成员为已使用，返回实际更新数量
func (r *GormLicenseKeyRepository) ClaimGroupMembers(ctx context.Context, groupID string, ids []uint, orderID uint, usedAt time.Time) (int64, error) {
	if groupID == "" || len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Where("group_id = ? AND id IN ? AND status = ?", groupID, ids, constants.LicenseKeyStatusUnused).
		Updates(usedColumns(orderID, usedAt))
	return result.RowsAffected, result.Error
}

// MarkSingleUsedByHash 将未使用的单卡密标记为已使用
func (r *GormLicenseKeyRepository) MarkSingleUsedByHash(ctx context.Context, hash string, orderID uint, usedAt time.Time) (int64, error) {
	if hash == "" {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Where("code_hash = ? AND is_group_product = ? AND status = ?", hash, false, constants.LicenseKeyStatusUnused).
		Updates(usedColumns(orderID, usedAt))
	return result.RowsAffected, result.Error
}

// MarkGroupUsed 将卡密组剩余成员全部标记为已使用
func (r *GormLicenseKeyRepository) MarkGroupUsed(ctx context.Context, groupID string, orderID uint, usedAt time.Time) (int64, error) {
	if groupID == "" {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Where("group_id = ? AND status = ?", groupID, constants.LicenseKeyStatusUnused).
		Updates(usedColumns(orderID, usedAt))
	return result.RowsAffected, result.Error
}

// CountSinglesByStatus 按状态统计单卡密
func (r *GormLicenseKeyRepository) CountSinglesByStatus(ctx context.Context) (map[string]int64, error) {
	type statusRow struct {
		Status string
		Total  int64
	}
	var rows []statusRow
	if err := r.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Select("status, COUNT(*) as total").
		Where("is_group_product = ?", false).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Status] = row.Total
	}
	return result, nil
}

// ListGroupUsage 统计每个卡密组的成员使用情况
func (r *GormLicenseKeyRepository) ListGroupUsage(ctx context.Context) ([]LicenseGroupUsage, error) {
	var rows []LicenseGroupUsage
	if err := r.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Select("group_id, COUNT(*) as member_count, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) as unused_members", constants.LicenseKeyStatusUnused).
		Where("is_group_product = ? AND group_id IS NOT NULL", true).
		Group("group_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// List 分页查询卡密
func (r *GormLicenseKeyRepository) List(ctx context.Context, filter LicenseKeyListFilter) ([]models.LicenseKey, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.LicenseKey{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.GroupID != "" {
		query = query.Where("group_id = ?", filter.GroupID)
	}
	if filter.OnlyGroups != nil {
		query = query.Where("is_group_product = ?", *filter.OnlyGroups)
	}
	if filter.ProductID > 0 {
		query = applyProductScope(query, filter.ProductID)
	}

	return findPage[models.LicenseKey](query, Page{Page: filter.Page, PageSize: filter.PageSize}, "")
}

// Delete 删除卡密（软删除，摘要仍参与唯一约束）
func (r *GormLicenseKeyRepository) Delete(ctx context.Context, id uint) error {
	if id == 0 {
		return gorm.ErrRecordNotFound
	}
	result := r.db.WithContext(ctx).Delete(&models.LicenseKey{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func applyProductScope(query *gorm.DB, productID uint) *gorm.DB {
	return query.Where(
		"(product_ids IS NULL OR product_ids = '' OR product_ids LIKE ?)",
		"%"+models.ProductScopeToken(productID)+"%",
	)
}

func usedColumns(orderID uint, usedAt time.Time) map[string]interface{} {
	if usedAt.IsZero() {
		usedAt = time.Now()
	}
	columns := map[string]interface{}{
		"status":     constants.LicenseKeyStatusUsed,
		"used_at":    usedAt,
		"updated_at": usedAt,
	}
	if orderID > 0 {
		columns["order_id"] = orderID
	}
	return columns
}
