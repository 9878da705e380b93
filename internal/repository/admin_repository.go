package repository

import (
	"context"
	"errors"
	"time"

	"github.com/keyrelay/internal/models"

	"gorm.io/gorm"
)

// AdminRepository 管理员数据访问接口
type AdminRepository interface {
	GetByUsername(ctx context.Context, username string) (*models.Admin, error)
	GetByID(ctx context.Context, id uint) (*models.Admin, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, admin *models.Admin) error
	TouchLogin(ctx context.Context, id uint, at time.Time) error
	RotatePassword(ctx context.Context, id uint, currentVersion uint64, passwordHash string) (bool, error)
}

// GormAdminRepository GORM 实现
type GormAdminRepository struct {
	db *gorm.DB
}

// NewAdminRepository 创建管理员仓库
func NewAdminRepository(db *gorm.DB) *GormAdminRepository {
	return &GormAdminRepository{db: db}
}

// GetByUsername 根据用户名获取管理员，不存在返回 nil
func (r *GormAdminRepository) GetByUsername(ctx context.Context, username string) (*models.Admin, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("username = ?", username))
}

// GetByID 根据 ID 获取管理员，不存在返回 nil
func (r *GormAdminRepository) GetByID(ctx context.Context, id uint) (*models.Admin, error) {
	if id == 0 {
		return nil, nil
	}
	return r.first(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GormAdminRepository) first(ctx context.Context, query *gorm.DB) (*models.Admin, error) {
	var admin models.Admin
	if err := query.First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &admin, nil
}

// Count 统计管理员数量
func (r *GormAdminRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Admin{}).Count(&count).Error
	return count, err
}

// Create 创建管理员
func (r *GormAdminRepository) Create(ctx context.Context, admin *models.Admin) error {
	return r.db.WithContext(ctx).Create(admin).Error
}

// TouchLogin 只更新最后登录时间
func (r *GormAdminRepository) TouchLogin(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Admin{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error
}

// RotatePassword 更新密码并递增 Token 版本，版本已变化时返回 false
func (r *GormAdminRepository) RotatePassword(ctx context.Context, id uint, currentVersion uint64, passwordHash string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Admin{}).
		Where("id = ? AND token_version = ?", id, currentVersion).
		Updates(map[string]interface{}{
			"password_hash":       passwordHash,
			"token_version":       gorm.Expr("token_version + 1"),
			"password_changed_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
