package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
	"github.com/keyrelay/internal/secret"

	"gorm.io/gorm"
)

// LedgerEntry 台账视图（卡密已解密）
type LedgerEntry struct {
	ID         uint      `json:"id"`
	OrderID    uint      `json:"order_id"`
	PlayerID   string    `json:"player_id"`
	LicenseKey string    `json:"-"`
	Status     string    `json:"status"`
	RequestID  string    `json:"request_id,omitempty"`
	QueueID    string    `json:"queue_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AutomationLedgerService 自动化台账服务，按订单唯一
type AutomationLedgerService struct {
	repo   repository.AutomationLedgerRepository
	cipher secret.Cipher
	now    func() time.Time
}

// NewAutomationLedgerService 创建台账服务
func NewAutomationLedgerService(repo repository.AutomationLedgerRepository, cipher secret.Cipher) *AutomationLedgerService {
	return &AutomationLedgerService{repo: repo, cipher: cipher, now: time.Now}
}

// WithTx 绑定外部事务
func (s *AutomationLedgerService) WithTx(tx *gorm.DB) *AutomationLedgerService {
	if tx == nil {
		return s
	}
	return &AutomationLedgerService{repo: s.repo.WithTx(tx), cipher: s.cipher, now: s.now}
}

// Exists 订单是否已尝试过自动化
func (s *AutomationLedgerService) Exists(ctx context.Context, orderID uint) (bool, error) {
	exists, err := s.repo.Exists(ctx, orderID)
	if err != nil {
		return false, persistenceError("ledger exists", err)
	}
	return exists, nil
}

// RecordAttempt 记录自动化尝试，重复订单返回 ErrDuplicateAttempt
func (s *AutomationLedgerService) RecordAttempt(ctx context.Context, orderID uint, playerID, code string) error {
	encrypted, err := s.cipher.Encrypt(code)
	if err != nil {
		return err
	}
	entry := &models.AutomationLedgerEntry{
		OrderID:    orderID,
		PlayerID:   strings.TrimSpace(playerID),
		LicenseKey: encrypted,
		Status:     constants.LedgerStatusRunning,
		RecordedAt: s.now(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrLedgerEntryExists) {
			return ErrDuplicateAttempt
		}
		return persistenceError("record attempt", err)
	}
	return nil
}

// Finalize 将运行中的台账迁移到终态，返回是否实际生效
func (s *AutomationLedgerService) Finalize(ctx context.Context, orderID uint, status, message string) (bool, error) {
	applied, err := s.repo.TransitionStatus(ctx, orderID, repository.RunningStatuses(), status, message, s.now())
	if err != nil {
		return false, persistenceError("finalize ledger", err)
	}
	return applied, nil
}

// MarkFailed 标记自动化失败
func (s *AutomationLedgerService) MarkFailed(ctx context.Context, orderID uint, message string) error {
	_, err := s.Finalize(ctx, orderID, constants.LedgerStatusFailed, message)
	return err
}

// MarkCompleted 标记自动化完成
func (s *AutomationLedgerService) MarkCompleted(ctx context.Context, orderID uint, message string) error {
	_, err := s.Finalize(ctx, orderID, constants.LedgerStatusCompleted, message)
	return err
}

// AttachRequest 记录远端请求ID与队列ID
func (s *AutomationLedgerService) AttachRequest(ctx context.Context, orderID uint, requestID, queueID string) error {
	if err := s.repo.AttachRequest(ctx, orderID, strings.TrimSpace(requestID), strings.TrimSpace(queueID)); err != nil {
		return persistenceError("attach request", err)
	}
	return nil
}

// FindOrderByJobRef 根据请求ID或队列ID反查订单，未命中返回 0
func (s *AutomationLedgerService) FindOrderByJobRef(ctx context.Context, ref string) (uint, error) {
	orderID, err := s.repo.FindOrderIDByJobRef(ctx, strings.TrimSpace(ref))
	if err != nil {
		return 0, persistenceError("find order by job ref", err)
	}
	return orderID, nil
}

// Get 获取订单台账
func (s *AutomationLedgerService) Get(ctx context.Context, orderID uint) (*LedgerEntry, error) {
	entry, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, persistenceError("get ledger entry", err)
	}
	if entry == nil {
		return nil, ErrLedgerEntryNotFound
	}
	view := s.toView(*entry)
	return &view, nil
}

// ListRunning 获取超过宽限期仍在运行的台账，afterID 为上一批最后一条的 ID
func (s *AutomationLedgerService) ListRunning(ctx context.Context, olderThan time.Duration, afterID uint, limit int) ([]LedgerEntry, error) {
	before := s.now().Add(-olderThan)
	entries, err := s.repo.ListByStatusBefore(ctx, constants.LedgerStatusRunning, before, afterID, limit)
	if err != nil {
		return nil, persistenceError("list running ledger", err)
	}
	views := make([]LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		views = append(views, s.toView(entry))
	}
	return views, nil
}

// List 管理端分页查询台账
func (s *AutomationLedgerService) List(ctx context.Context, filter repository.AutomationLedgerListFilter) ([]LedgerEntry, int64, error) {
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, persistenceError("list ledger", err)
	}
	views := make([]LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		views = append(views, s.toView(entry))
	}
	return views, total, nil
}

func (s *AutomationLedgerService) toView(entry models.AutomationLedgerEntry) LedgerEntry {
	view := LedgerEntry{
		ID:         entry.ID,
		OrderID:    entry.OrderID,
		PlayerID:   entry.PlayerID,
		Status:     entry.Status,
		Message:    entry.Message,
		RecordedAt: entry.RecordedAt,
		UpdatedAt:  entry.UpdatedAt,
	}
	if entry.RequestID != nil {
		view.RequestID = *entry.RequestID
	}
	if entry.QueueID != nil {
		view.QueueID = *entry.QueueID
	}
	if code, err := s.cipher.Decrypt(entry.LicenseKey); err == nil {
		view.LicenseKey = code
	}
	return view
}
