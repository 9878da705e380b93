package repository

import (
	"context"
	"errors"
	"time"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"

	"gorm.io/gorm"
)

// ErrLedgerEntryExists 订单已存在台账记录
var ErrLedgerEntryExists = errors.New("automation ledger entry already exists")

// AutomationLedgerRepository 自动化台账数据访问接口
type AutomationLedgerRepository interface {
	Exists(ctx context.Context, orderID uint) (bool, error)
	GetByOrderID(ctx context.Context, orderID uint) (*models.AutomationLedgerEntry, error)
	Create(ctx context.Context, entry *models.AutomationLedgerEntry) error
	TransitionStatus(ctx context.Context, orderID uint, from []string, to, message string, at time.Time) (bool, error)
	AttachRequest(ctx context.Context, orderID uint, requestID, queueID string) error
	FindOrderIDByJobRef(ctx context.Context, ref string) (uint, error)
	ListByStatusBefore(ctx context.Context, status string, before time.Time, afterID uint, limit int) ([]models.AutomationLedgerEntry, error)
	List(ctx context.Context, filter AutomationLedgerListFilter) ([]models.AutomationLedgerEntry, int64, error)
	WithTx(tx *gorm.DB) *GormAutomationLedgerRepository
}

// GormAutomationLedgerRepository GORM 实现
type GormAutomationLedgerRepository struct {
	db *gorm.DB
}

// NewAutomationLedgerRepository 创建台账仓库
func NewAutomationLedgerRepository(db *gorm.DB) *GormAutomationLedgerRepository {
	return &GormAutomationLedgerRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAutomationLedgerRepository) WithTx(tx *gorm.DB) *GormAutomationLedgerRepository {
	if tx == nil {
		return r
	}
	return &GormAutomationLedgerRepository{db: tx}
}

// Exists 订单是否已有台账记录（不区分状态）
func (r *GormAutomationLedgerRepository) Exists(ctx context.Context, orderID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.AutomationLedgerEntry{}).
		Where("order_id = ?", orderID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetByOrderID 获取订单台账
func (r *GormAutomationLedgerRepository) GetByOrderID(ctx context.Context, orderID uint) (*models.AutomationLedgerEntry, error) {
	var entry models.AutomationLedgerEntry
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// Create 写入台账，唯一约束冲突返回 ErrLedgerEntryExists
func (r *GormAutomationLedgerRepository) Create(ctx context.Context, entry *models.AutomationLedgerEntry) error {
	if entry == nil {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if IsDuplicateKeyError(err) {
			return ErrLedgerEntryExists
		}
		return err
	}
	return nil
}

// TransitionStatus 条件更新台账状态，仅当当前状态属于 from 时生效
func (r *GormAutomationLedgerRepository) TransitionStatus(ctx context.Context, orderID uint, from []string, to, message string, at time.Time) (bool, error) {
	if orderID == 0 || to == "" {
		return false, nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	query := r.db.WithContext(ctx).Model(&models.AutomationLedgerEntry{}).Where("order_id = ?", orderID)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}
	result := query.Updates(map[string]interface{}{
		"status":     to,
		"message":    message,
		"updated_at": at,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AttachRequest 记录远端请求ID与队列ID
func (r *GormAutomationLedgerRepository) AttachRequest(ctx context.Context, orderID uint, requestID, queueID string) error {
	if orderID == 0 {
		return nil
	}
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if requestID != "" {
		updates["request_id"] = requestID
	}
	if queueID != "" {
		updates["queue_id"] = queueID
	}
	return r.db.WithContext(ctx).Model(&models.AutomationLedgerEntry{}).
		Where("order_id = ?", orderID).
		Updates(updates).Error
}

// FindOrderIDByJobRef 根据请求ID或队列ID反查订单，未找到返回 0
func (r *GormAutomationLedgerRepository) FindOrderIDByJobRef(ctx context.Context, ref string) (uint, error) {
	if ref == "" {
		return 0, nil
	}
	var entry models.AutomationLedgerEntry
	err := r.db.WithContext(ctx).
		Select("order_id").
		Where("request_id = ? OR queue_id = ?", ref, ref).
		Order("id desc").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return entry.OrderID, nil
}

// ListByStatusBefore 获取指定状态且早于某时间的台账
func (r *GormAutomationLedgerRepository) ListByStatusBefore(ctx context.Context, status string, before time.Time, afterID uint, limit int) ([]models.AutomationLedgerEntry, error) {
	query := r.db.WithContext(ctx).Where("status = ?", status)
	if !before.IsZero() {
		query = query.Where("recorded_at <= ?", before)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []models.AutomationLedgerEntry
	if err := query.Order("recorded_at asc, id asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// List 分页查询台账
func (r *GormAutomationLedgerRepository) List(ctx context.Context, filter AutomationLedgerListFilter) ([]models.AutomationLedgerEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AutomationLedgerEntry{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.OrderID > 0 {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	return findPage[models.AutomationLedgerEntry](query, Page{Page: filter.Page, PageSize: filter.PageSize}, "")
}

// RunningStatuses 可被终态迁移的台账状态
func RunningStatuses() []string {
	return []string{constants.LedgerStatusRunning}
}
