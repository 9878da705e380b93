package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
	"github.com/keyrelay/internal/secret"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	keyPoolClaimAttempts  = 5
	keyPoolCandidateBatch = 5
	licenseKeyMaxLength   = 512
	licenseGroupMaxSize   = 100
)

// errClaimConflict 候选卡密被并发抢占，需在新事务中重试
var errClaimConflict = errors.New("license key claim conflict")

// AllocatedKey 已分配的单卡密
type AllocatedKey struct {
	ID      uint
	Code    string
	OrderID uint
	UsedAt  time.Time
}

// GroupBundle 已分配的卡密组（一次性发放全部未用成员）
type GroupBundle struct {
	GroupID   string
	GroupName string
	Capacity  int
	KeyIDs    []uint
	Codes     []string
	UsedAt    time.Time
}

// Joined 以逗号拼接卡密，用于提交与台账记录
func (b GroupBundle) Joined() string {
	return strings.Join(b.Codes, ",")
}

// KeyPoolStats 卡密池统计（卡密组按一个单位计）
type KeyPoolStats struct {
	Total       int64 `json:"total"`
	Unused      int64 `json:"unused"`
	Used        int64 `json:"used"`
	GroupCount  int64 `json:"group_count"`
	SingleCount int64 `json:"single_count"`
}

// LicenseKeyView 管理端卡密视图（卡密脱敏）
type LicenseKeyView struct {
	ID                uint       `json:"id"`
	MaskedCode        string     `json:"masked_code"`
	ProductIDs        []uint     `json:"product_ids"`
	Status            string     `json:"status"`
	OrderID           *uint      `json:"order_id,omitempty"`
	IsGroupProduct    bool       `json:"is_group_product"`
	GroupID           string     `json:"group_id,omitempty"`
	GroupName         string     `json:"group_name,omitempty"`
	GroupLicenseCount int        `json:"group_license_count"`
	UsedAt            *time.Time `json:"used_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

// KeyPoolService 卡密池服务
type KeyPoolService struct {
	repo   repository.LicenseKeyRepository
	cipher secret.Cipher
	now    func() time.Time
}

// NewKeyPoolService 创建卡密池服务
func NewKeyPoolService(repo repository.LicenseKeyRepository, cipher secret.Cipher) *KeyPoolService {
	return &KeyPoolService{
		repo:   repo,
		cipher: cipher,
		now:    time.Now,
	}
}

// WithTx 绑定外部事务，使分配与台账写入同进同退
func (s *KeyPoolService) WithTx(tx *gorm.DB) *KeyPoolService {
	if tx == nil {
		return s
	}
	return &KeyPoolService{
		repo:   s.repo.WithTx(tx),
		cipher: s.cipher,
		now:    s.now,
	}
}

// AllocateSingle 为订单分配最早创建的可用单卡密
func (s *KeyPoolService) AllocateSingle(ctx context.Context, productID, orderID uint) (*AllocatedKey, error) {
	var allocated *AllocatedKey
	err := s.withClaimRetry(ctx, func(repo *repository.GormLicenseKeyRepository) error {
		candidates, err := repo.FindSingleCandidates(ctx, productID, keyPoolCandidateBatch)
		if err != nil {
			return persistenceError("find single candidates", err)
		}
		if len(candidates) == 0 {
			return ErrNoKeyAvailable
		}
		usedAt := s.now()
		for _, candidate := range candidates {
			ok, err := repo.ClaimSingle(ctx, candidate.ID, orderID, usedAt)
			if err != nil {
				return persistenceError("claim single", err)
			}
			if !ok {
				continue
			}
			code, err := s.cipher.Decrypt(candidate.Code)
			if err != nil {
				return fmt.Errorf("decrypt license key %d: %w", candidate.ID, err)
			}
			allocated = &AllocatedKey{
				ID:      candidate.ID,
				Code:    code,
				OrderID: orderID,
				UsedAt:  usedAt,
			}
			return nil
		}
		return errClaimConflict
	})
	if err != nil {
		return nil, err
	}
	return allocated, nil
}

// AllocateGroup 为订单整体分配最早的可用卡密组
func (s *KeyPoolService) AllocateGroup(ctx context.Context, productID, orderID uint) (*GroupBundle, error) {
	var bundle *GroupBundle
	err := s.withClaimRetry(ctx, func(repo *repository.GormLicenseKeyRepository) error {
		groupIDs, err := repo.FindGroupCandidates(ctx, productID, keyPoolCandidateBatch)
		if err != nil {
			return persistenceError("find group candidates", err)
		}
		if len(groupIDs) == 0 {
			return ErrNoKeyAvailable
		}
		usedAt := s.now()
		for _, groupID := range groupIDs {
			members, err := repo.ListGroupMembers(ctx, groupID, constants.LicenseKeyStatusUnused)
			if err != nil {
				return persistenceError("list group members", err)
			}
			if len(members) == 0 {
				continue
			}
			ids := make([]uint, 0, len(members))
			for _, member := range members {
				ids = append(ids, member.ID)
			}
			affected, err := repo.ClaimGroupMembers(ctx, groupID, ids, orderID, usedAt)
			if err != nil {
				return persistenceError("claim group", err)
			}
			if affected != int64(len(ids)) {
				// 部分成员已被占用，整体回滚
				return errClaimConflict
			}
			codes := make([]string, 0, len(members))
			for _, member := range members {
				code, err := s.cipher.Decrypt(member.Code)
				if err != nil {
					return fmt.Errorf("decrypt license key %d: %w", member.ID, err)
				}
				codes = append(codes, code)
			}
			bundle = &GroupBundle{
				GroupID:   groupID,
				GroupName: members[0].GroupName,
				Capacity:  members[0].GroupLicenseCount,
				KeyIDs:    ids,
				Codes:     codes,
				UsedAt:    usedAt,
			}
			return nil
		}
		return errClaimConflict
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

func (s *KeyPoolService) withClaimRetry(ctx context.Context, fn func(repo *repository.GormLicenseKeyRepository) error) error {
	var lastErr error
	for attempt := 0; attempt < keyPoolClaimAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
			return fn(s.repo.WithTx(tx))
		})
		if !errors.Is(lastErr, errClaimConflict) {
			return lastErr
		}
		logger.Debugw("key_pool_claim_conflict_retry", "attempt", attempt+1)
	}
	// 连续冲突说明候选已被并发耗尽
	return ErrNoKeyAvailable
}

// MarkSingleUsed 幂等地将单卡密标记为已使用
func (s *KeyPoolService) MarkSingleUsed(ctx context.Context, code string, orderID uint) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidLicenseKey
	}
	hash := s.cipher.Hash(code)
	affected, err := s.repo.MarkSingleUsedByHash(ctx, hash, orderID, s.now())
	if err != nil {
		return persistenceError("mark single used", err)
	}
	if affected > 0 {
		return nil
	}
	key, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		return persistenceError("get license key", err)
	}
	if key == nil || key.IsGroupProduct {
		return ErrLicenseKeyNotFound
	}
	return nil
}

// MarkGroupUsed 将卡密组剩余成员全部标记为已使用，已耗尽时为空操作
func (s *KeyPoolService) MarkGroupUsed(ctx context.Context, groupID string, orderID uint) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return ErrLicenseGroupNotFound
	}
	affected, err := s.repo.MarkGroupUsed(ctx, groupID, orderID, s.now())
	if err != nil {
		return persistenceError("mark group used", err)
	}
	if affected > 0 {
		return nil
	}
	members, err := s.repo.ListGroupMembers(ctx, groupID, "")
	if err != nil {
		return persistenceError("list group members", err)
	}
	if len(members) == 0 {
		return ErrLicenseGroupNotFound
	}
	return nil
}

// AddSingle 导入单卡密
func (s *KeyPoolService) AddSingle(ctx context.Context, code string, productIDs []uint) (uint, error) {
	ids, err := s.AddSingles(ctx, []string{code}, productIDs)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AddSingles 批量导入单卡密（同一事务）
func (s *KeyPoolService) AddSingles(ctx context.Context, codes []string, productIDs []uint) ([]uint, error) {
	keys, err := s.buildKeys(ctx, codes, productIDs)
	if err != nil {
		return nil, err
	}
	if err := s.createKeys(ctx, keys); err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key.ID)
	}
	return ids, nil
}

// AddGroup 导入卡密组，返回组ID
func (s *KeyPoolService) AddGroup(ctx context.Context, codes []string, productIDs []uint, capacity int, name string) (string, error) {
	if capacity <= 0 {
		capacity = constants.DefaultGroupCapacity
	}
	if capacity > licenseGroupMaxSize {
		return "", fmt.Errorf("%w: capacity %d exceeds %d", ErrInvalidGroupCapacity, capacity, licenseGroupMaxSize)
	}
	if len(codes) == 0 || len(codes) > capacity {
		return "", fmt.Errorf("%w: %d codes for capacity %d", ErrInvalidGroupCapacity, len(codes), capacity)
	}
	keys, err := s.buildKeys(ctx, codes, productIDs)
	if err != nil {
		return "", err
	}

	groupID := uuid.NewString()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "group-" + groupID[:8]
	}
	for i := range keys {
		gid := groupID
		keys[i].IsGroupProduct = true
		keys[i].GroupID = &gid
		keys[i].GroupName = name
		keys[i].GroupLicenseCount = capacity
	}
	if err := s.createKeys(ctx, keys); err != nil {
		return "", err
	}
	logger.Infow("license_group_created", "group_id", groupID, "group_name", name, "members", len(keys), "capacity", capacity)
	return groupID, nil
}

func (s *KeyPoolService) buildKeys(ctx context.Context, codes []string, productIDs []uint) ([]models.LicenseKey, error) {
	if len(codes) == 0 {
		return nil, ErrInvalidLicenseKey
	}
	scope := models.FormatProductScope(productIDs)
	hashes := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	keys := make([]models.LicenseKey, 0, len(codes))
	inRequestDup := 0
	for _, raw := range codes {
		code := strings.TrimSpace(raw)
		if code == "" || len(code) > licenseKeyMaxLength {
			return nil, ErrInvalidLicenseKey
		}
		hash := s.cipher.Hash(code)
		if _, ok := seen[hash]; ok {
			inRequestDup++
			continue
		}
		seen[hash] = struct{}{}
		encrypted, err := s.cipher.Encrypt(code)
		if err != nil {
			return nil, fmt.Errorf("encrypt license key: %w", err)
		}
		hashes = append(hashes, hash)
		keys = append(keys, models.LicenseKey{
			Code:              encrypted,
			CodeHash:          hash,
			ProductIDs:        scope,
			Status:            constants.LicenseKeyStatusUnused,
			GroupLicenseCount: constants.DefaultGroupCapacity,
		})
	}
	if inRequestDup > 0 {
		return nil, &DuplicateKeyError{Count: inRequestDup, InRequest: true}
	}

	existing, err := s.repo.ExistingHashes(ctx, hashes)
	if err != nil {
		return nil, persistenceError("check existing keys", err)
	}
	if len(existing) > 0 {
		return nil, &DuplicateKeyError{Count: len(existing)}
	}
	return keys, nil
}

func (s *KeyPoolService) createKeys(ctx context.Context, keys []models.LicenseKey) error {
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, keys)
	})
	if err != nil {
		if repository.IsDuplicateKeyError(err) {
			return &DuplicateKeyError{Count: 1}
		}
		return persistenceError("create license keys", err)
	}
	return nil
}

// Stats 汇总卡密池统计，卡密组按一个单位计
func (s *KeyPoolService) Stats(ctx context.Context) (*KeyPoolStats, error) {
	singles, err := s.repo.CountSinglesByStatus(ctx)
	if err != nil {
		return nil, persistenceError("count singles", err)
	}
	groups, err := s.repo.ListGroupUsage(ctx)
	if err != nil {
		return nil, persistenceError("list group usage", err)
	}

	stats := &KeyPoolStats{}
	for status, total := range singles {
		stats.SingleCount += total
		switch status {
		case constants.LicenseKeyStatusUnused:
			stats.Unused += total
		case constants.LicenseKeyStatusUsed:
			stats.Used += total
		}
	}
	for _, group := range groups {
		stats.GroupCount++
		if group.UnusedMembers > 0 {
			stats.Unused++
		} else {
			stats.Used++
		}
	}
	stats.Total = stats.SingleCount + stats.GroupCount
	return stats, nil
}

// List 管理端分页查询卡密
func (s *KeyPoolService) List(ctx context.Context, filter repository.LicenseKeyListFilter) ([]LicenseKeyView, int64, error) {
	keys, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, persistenceError("list license keys", err)
	}
	views := make([]LicenseKeyView, 0, len(keys))
	for _, key := range keys {
		masked := "****"
		if code, err := s.cipher.Decrypt(key.Code); err == nil {
			masked = maskLicenseCode(code)
		}
		view := LicenseKeyView{
			ID:                key.ID,
			MaskedCode:        masked,
			ProductIDs:        models.ParseProductScope(key.ProductIDs),
			Status:            key.Status,
			OrderID:           key.OrderID,
			IsGroupProduct:    key.IsGroupProduct,
			GroupName:         key.GroupName,
			GroupLicenseCount: key.GroupLicenseCount,
			UsedAt:            key.UsedAt,
			CreatedAt:         key.CreatedAt,
		}
		if key.GroupID != nil {
			view.GroupID = *key.GroupID
		}
		views = append(views, view)
	}
	return views, total, nil
}

// Delete 管理端删除卡密
func (s *KeyPoolService) Delete(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLicenseKeyNotFound
		}
		return persistenceError("delete license key", err)
	}
	return nil
}

func maskLicenseCode(code string) string {
	runes := []rune(code)
	if len(runes) <= 4 {
		return "****"
	}
	return string(runes[:4]) + strings.Repeat("*", len(runes)-4)
}
