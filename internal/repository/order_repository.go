package repository

import (
	"context"
	"errors"
	"time"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"

	"gorm.io/gorm"
)

// OrderRepository 订单存储访问接口（外部订单系统的适配层）
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetByID(ctx context.Context, id uint) (*models.Order, error)
	GetAccount(ctx context.Context, id uint) (*models.Account, error)
	UpdateStatus(ctx context.Context, id uint, status, message string) error
	UpdateStatusUnlessTerminal(ctx context.Context, id uint, status, message string) (bool, error)
	AddNote(ctx context.Context, id uint, status, message string) error
	ListNotes(ctx context.Context, id uint) ([]models.OrderNote, error)
	WithTx(tx *gorm.DB) *GormOrderRepository
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) *GormOrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Create 创建订单与订单项
func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit("Items").Create(order).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].OrderID = order.ID
	}
	if len(items) > 0 {
		if err := db.Create(&items).Error; err != nil {
			return err
		}
	}
	order.Items = items
	return nil
}

// GetByID 根据 ID 获取订单（含订单项）
func (r *GormOrderRepository) GetByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetAccount 获取下单账号
func (r *GormOrderRepository) GetAccount(ctx context.Context, id uint) (*models.Account, error) {
	if id == 0 {
		return nil, nil
	}
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// UpdateStatus 更新订单状态并追加备注
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id uint, status, message string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Order{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if message == "" {
			return nil
		}
		return tx.Create(&models.OrderNote{OrderID: id, Status: status, Message: message}).Error
	})
}

// UpdateStatusUnlessTerminal 仅在订单未到终态时更新状态，返回是否生效
func (r *GormOrderRepository) UpdateStatusUnlessTerminal(ctx context.Context, id uint, status, message string) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Order{}).
			Where("id = ? AND status NOT IN ?", id, []string{constants.OrderStatusCompleted, constants.OrderStatusFailed}).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		applied = true
		if message == "" {
			return nil
		}
		return tx.Create(&models.OrderNote{OrderID: id, Status: status, Message: message}).Error
	})
	return applied, err
}

// AddNote 追加订单备注
func (r *GormOrderRepository) AddNote(ctx context.Context, id uint, status, message string) error {
	if id == 0 || message == "" {
		return nil
	}
	return r.db.WithContext(ctx).Create(&models.OrderNote{OrderID: id, Status: status, Message: message}).Error
}

// ListNotes 获取订单备注
func (r *GormOrderRepository) ListNotes(ctx context.Context, id uint) ([]models.OrderNote, error) {
	var notes []models.OrderNote
	if err := r.db.WithContext(ctx).Where("order_id = ?", id).Order("id asc").Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}
