package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyrelay/internal/cache"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/metrics"
	"github.com/keyrelay/internal/models"

	"gorm.io/gorm"
)

// OrderStore 外部订单存储
type OrderStore interface {
	GetByID(ctx context.Context, id uint) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uint, status, message string) error
	UpdateStatusUnlessTerminal(ctx context.Context, id uint, status, message string) (bool, error)
	AddNote(ctx context.Context, id uint, status, message string) error
}

// JobOrderResolver 将任务事件映射到订单
type JobOrderResolver struct {
	ledger *AutomationLedgerService
}

// NewJobOrderResolver 创建订单解析器
func NewJobOrderResolver(ledger *AutomationLedgerService) *JobOrderResolver {
	return &JobOrderResolver{ledger: ledger}
}

// Resolve 依次尝试 orderId、queue.orderId、queueId/requestId 映射
func (r *JobOrderResolver) Resolve(ctx context.Context, job JobPayload) (uint, error) {
	if id := job.OrderID.Uint(); id != 0 {
		return id, nil
	}
	if job.Queue != nil {
		if id := job.Queue.OrderID.Uint(); id != 0 {
			return id, nil
		}
	}
	for _, ref := range []string{job.QueueID.String(), job.RequestID} {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		cached, hit, err := cache.GetJobRef(ctx, ref)
		if err != nil {
			logger.Warnw("job_ref_cache_get_failed", "ref", ref, "error", err)
		} else if hit && cached.OrderID != 0 {
			return cached.OrderID, nil
		}
		if r.ledger == nil {
			continue
		}
		orderID, err := r.ledger.FindOrderByJobRef(ctx, ref)
		if err != nil {
			return 0, err
		}
		if orderID != 0 {
			return orderID, nil
		}
	}
	return 0, ErrUnresolvableOrder
}

// ReconciliationOptions 对账回写选项
type ReconciliationOptions struct {
	RetryAttempts int
	RetryDelay    time.Duration
	Metrics       *metrics.Registry
}

// ReconciliationService 将任务终态回写到台账与订单
type ReconciliationService struct {
	ledger   *AutomationLedgerService
	orders   OrderStore
	alerts   *AlertService
	resolver *JobOrderResolver
	metrics  *metrics.Registry
	attempts int
	delay    time.Duration
}

// NewReconciliationService 创建对账服务
func NewReconciliationService(ledger *AutomationLedgerService, orders OrderStore, alerts *AlertService, resolver *JobOrderResolver, opts ReconciliationOptions) *ReconciliationService {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	return &ReconciliationService{
		ledger:   ledger,
		orders:   orders,
		alerts:   alerts,
		resolver: resolver,
		metrics:  opts.Metrics,
		attempts: opts.RetryAttempts,
		delay:    opts.RetryDelay,
	}
}

// Reconcile 解析订单并回写终态，返回是否实际生效
func (s *ReconciliationService) Reconcile(ctx context.Context, job JobPayload, outcome, message string) (bool, error) {
	orderID, err := s.resolver.Resolve(ctx, job)
	if err != nil {
		return false, err
	}
	return s.ReconcileOrder(ctx, orderID, job, outcome, message)
}

// ReconcileOrder 回写指定订单的终态；台账终态迁移失败（已是终态）时不做任何写入
func (s *ReconciliationService) ReconcileOrder(ctx context.Context, orderID uint, job JobPayload, outcome, message string) (bool, error) {
	ledgerStatus := constants.LedgerStatusCompleted
	orderStatus := constants.OrderStatusCompleted
	note := constants.OrderMessageCompleted
	if outcome != constants.OutcomeSuccess {
		outcome = constants.OutcomeFailure
		ledgerStatus = constants.LedgerStatusFailed
		orderStatus = constants.OrderStatusFailed
		note = constants.OrderMessageFailed
		if message = strings.TrimSpace(message); message != "" {
			note = note + ": " + message
		}
	}

	var applied bool
	err := s.retryStore(ctx, func() error {
		var finalizeErr error
		applied, finalizeErr = s.ledger.Finalize(ctx, orderID, ledgerStatus, message)
		return finalizeErr
	})
	if err != nil {
		s.escalate(ctx, orderID, job, "finalize ledger", err)
		return false, err
	}
	if !applied {
		entry, getErr := s.ledger.Get(ctx, orderID)
		if !errors.Is(getErr, ErrLedgerEntryNotFound) {
			s.metrics.RecordReconciliation(outcome, false)
			if getErr != nil {
				logger.Warnw("reconcile_ledger_lookup_failed", "order_id", orderID, "error", getErr)
			} else {
				logger.Debugw("reconcile_skip_already_terminal", "order_id", orderID, "status", entry.Status, "outcome", outcome, "request_id", job.RequestID)
			}
			return false, nil
		}
		// 无台账的订单只做条件写入，订单已是终态时不覆盖
		err = s.retryStore(ctx, func() error {
			var updateErr error
			applied, updateErr = s.orders.UpdateStatusUnlessTerminal(ctx, orderID, orderStatus, note)
			return updateErr
		})
		if err != nil {
			s.escalate(ctx, orderID, job, "update order status", err)
			return false, persistenceError("update order status", err)
		}
		logger.Warnw("reconcile_without_ledger",
			"order_id", orderID,
			"outcome", outcome,
			"request_id", job.RequestID,
			"queue_id", job.QueueID.String(),
			"order_updated", applied,
		)
		if !applied {
			s.metrics.RecordReconciliation(outcome, false)
			return false, nil
		}
	} else {
		err = s.retryStore(ctx, func() error {
			return s.orders.UpdateStatus(ctx, orderID, orderStatus, note)
		})
		if err != nil {
			s.escalate(ctx, orderID, job, "update order status", err)
			return true, persistenceError("update order status", err)
		}
	}
	s.metrics.RecordReconciliation(outcome, true)
	logger.Infow("reconcile_applied",
		"order_id", orderID,
		"outcome", outcome,
		"request_id", job.RequestID,
		"queue_id", job.QueueID.String(),
	)

	if outcome == constants.OutcomeFailure {
		s.alerts.Notify(ctx, s.buildFailureAlert(ctx, orderID, job, message))
	}
	if err := cache.DelJobRef(ctx, &cache.JobRef{RequestID: job.RequestID, QueueID: job.QueueID.String()}); err != nil {
		logger.Debugw("job_ref_cache_del_failed", "order_id", orderID, "error", err)
	}
	return true, nil
}

// MarkStarted 任务开始：订单置为处理中，已终态的订单不回退
func (s *ReconciliationService) MarkStarted(ctx context.Context, job JobPayload) error {
	orderID, err := s.resolver.Resolve(ctx, job)
	if err != nil {
		return err
	}
	entry, err := s.ledger.Get(ctx, orderID)
	if err != nil && !errors.Is(err, ErrLedgerEntryNotFound) {
		return err
	}
	if entry != nil && entry.Status != constants.LedgerStatusRunning {
		logger.Debugw("reconcile_skip_started_after_terminal", "order_id", orderID, "status", entry.Status)
		return nil
	}
	note := fmt.Sprintf(constants.OrderMessageStatus, constants.JobEventStarted)
	var applied bool
	err = s.retryStore(ctx, func() error {
		var updateErr error
		applied, updateErr = s.orders.UpdateStatusUnlessTerminal(ctx, orderID, constants.OrderStatusProcessing, note)
		return updateErr
	})
	if err == nil && !applied {
		logger.Debugw("reconcile_skip_started_after_terminal", "order_id", orderID, "order_state", "terminal")
	}
	return err
}

func (s *ReconciliationService) buildFailureAlert(ctx context.Context, orderID uint, job JobPayload, message string) AutomationAlert {
	alert := AutomationAlert{
		Kind:       AlertKindAutomationFailed,
		OrderID:    orderID,
		QueueID:    job.QueueID.String(),
		RequestID:  job.RequestID,
		PlayerID:   job.PlayerID,
		LicenseKey: job.LicenseKey,
		Error:      message,
		OccurredAt: time.Now(),
	}
	if entry, err := s.ledger.Get(ctx, orderID); err == nil && entry != nil {
		if alert.PlayerID == "" {
			alert.PlayerID = entry.PlayerID
		}
		if alert.LicenseKey == "" {
			alert.LicenseKey = entry.LicenseKey
		}
		if alert.QueueID == "" {
			alert.QueueID = entry.QueueID
		}
		if alert.RequestID == "" {
			alert.RequestID = entry.RequestID
		}
	}
	return alert
}

func (s *ReconciliationService) escalate(ctx context.Context, orderID uint, job JobPayload, op string, err error) {
	logger.Errorw("reconcile_store_failed",
		"order_id", orderID,
		"op", op,
		"attempts", s.attempts,
		"request_id", job.RequestID,
		"error", err,
	)
	s.alerts.Notify(ctx, AutomationAlert{
		Kind:      AlertKindStoreFailure,
		OrderID:   orderID,
		QueueID:   job.QueueID.String(),
		RequestID: job.RequestID,
		PlayerID:  job.PlayerID,
		Error:     fmt.Sprintf("%s: %v", op, err),
	})
}

func (s *ReconciliationService) retryStore(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) || attempt == s.attempts {
			break
		}
		logger.Warnw("reconcile_store_retry", "attempt", attempt, "error", err)
		if s.delay > 0 {
			timer := time.NewTimer(s.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return err
}
