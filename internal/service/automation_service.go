package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyrelay/internal/automation"
	"github.com/keyrelay/internal/cache"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/metrics"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/queue"

	"gorm.io/gorm"
)

// 订单处理结果
const (
	ProcessStatusQueued        = "queued"
	ProcessStatusSkipped       = "skipped"
	ProcessStatusNoPlayerID    = "no_player_id"
	ProcessStatusNoKey         = "no_key"
	ProcessStatusSubmitted     = "submitted"
	ProcessStatusPendingRemote = "pending_remote"
	ProcessStatusRejected      = "rejected"
)

// JobSubmitter 自动化任务提交
type JobSubmitter interface {
	SubmitJob(ctx context.Context, playerID, code string, metadata map[string]interface{}) (*automation.SubmitResult, error)
}

// ProcessResult 订单处理结果
type ProcessResult struct {
	OrderID   uint   `json:"order_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ProductID uint   `json:"product_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// AutomationServiceOptions 流水线选项
type AutomationServiceOptions struct {
	Enabled   bool
	JobRefTTL time.Duration
	Metrics   *metrics.Registry
}

// AutomationService 订单支付后的自动化流水线
type AutomationService struct {
	db          *gorm.DB
	orders      OrderStore
	eligibility *EligibilityService
	players     *PlayerIDResolver
	keyPool     *KeyPoolService
	ledger      *AutomationLedgerService
	client      JobSubmitter
	reconciler  *ReconciliationService
	alerts      *AlertService
	queueClient *queue.Client
	opts        AutomationServiceOptions
}

// NewAutomationService 创建流水线服务
func NewAutomationService(
	db *gorm.DB,
	orders OrderStore,
	eligibility *EligibilityService,
	players *PlayerIDResolver,
	keyPool *KeyPoolService,
	ledger *AutomationLedgerService,
	client JobSubmitter,
	reconciler *ReconciliationService,
	alerts *AlertService,
	queueClient *queue.Client,
	opts AutomationServiceOptions,
) *AutomationService {
	return &AutomationService{
		db:          db,
		orders:      orders,
		eligibility: eligibility,
		players:     players,
		keyPool:     keyPool,
		ledger:      ledger,
		client:      client,
		reconciler:  reconciler,
		alerts:      alerts,
		queueClient: queueClient,
		opts:        opts,
	}
}

// HandleOrderPaid 订单支付回调：队列可用时异步处理，否则同步处理
func (s *AutomationService) HandleOrderPaid(ctx context.Context, orderID uint) (*ProcessResult, error) {
	if !s.opts.Enabled {
		return nil, ErrAutomationDisabled
	}
	if orderID == 0 {
		return nil, ErrOrderNotFound
	}
	if s.queueClient != nil && s.queueClient.Enabled() {
		if err := s.queueClient.EnqueueAutomationSubmit(ctx, queue.AutomationSubmitPayload{OrderID: orderID}); err != nil {
			logger.Warnw("automation_enqueue_submit_failed", "order_id", orderID, "error", err)
			return nil, err
		}
		return &ProcessResult{OrderID: orderID, Status: ProcessStatusQueued}, nil
	}
	return s.ProcessOrder(ctx, orderID)
}

// ProcessOrder 资格判定 → 玩家ID → 分配卡密并记录台账（同一事务）→ 提交任务
func (s *AutomationService) ProcessOrder(ctx context.Context, orderID uint) (*ProcessResult, error) {
	if !s.opts.Enabled || s.client == nil {
		return nil, ErrAutomationDisabled
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, persistenceError("get order", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	result := &ProcessResult{OrderID: order.ID}

	decision, err := s.eligibility.Evaluate(ctx, order)
	if err != nil {
		return nil, err
	}
	if !decision.Eligible {
		result.Status = ProcessStatusSkipped
		result.Reason = decision.Reason
		s.opts.Metrics.RecordSubmission(ProcessStatusSkipped)
		logger.Debugw("automation_order_skipped", "order_id", order.ID, "reason", decision.Reason)
		return result, nil
	}

	player, err := s.players.Resolve(ctx, order)
	if err != nil {
		return nil, persistenceError("resolve player id", err)
	}
	if player.PlayerID == "" {
		result.Status = ProcessStatusNoPlayerID
		s.opts.Metrics.RecordSubmission(ProcessStatusNoPlayerID)
		s.addNote(ctx, order, constants.OrderMessageNoPlayerID)
		logger.Warnw("automation_player_id_missing", "order_id", order.ID)
		return result, nil
	}

	alloc, err := s.allocate(ctx, order, decision, player.PlayerID)
	switch {
	case errors.Is(err, ErrNoKeyAvailable):
		result.Status = ProcessStatusNoKey
		s.opts.Metrics.RecordSubmission(ProcessStatusNoKey)
		s.addNote(ctx, order, constants.OrderMessageNoKey)
		s.alerts.Notify(ctx, AutomationAlert{
			Kind:     AlertKindNoKeyAvailable,
			OrderID:  order.ID,
			PlayerID: player.PlayerID,
			Error:    ErrNoKeyAvailable.Error(),
		})
		logger.Warnw("automation_no_key_available", "order_id", order.ID, "products", decision.ProductIDs)
		return result, nil
	case errors.Is(err, ErrDuplicateAttempt):
		result.Status = ProcessStatusSkipped
		result.Reason = EligibilityReasonAlreadyAttempted
		s.opts.Metrics.RecordSubmission(ProcessStatusSkipped)
		return result, nil
	case err != nil:
		return nil, err
	}
	result.ProductID = alloc.productID
	result.GroupID = alloc.groupID

	submitted, err := s.client.SubmitJob(ctx, player.PlayerID, alloc.code, map[string]interface{}{
		"orderId":   order.ID,
		"productId": alloc.productID,
		"groupId":   alloc.groupID,
	})
	if err != nil {
		return s.handleSubmitError(ctx, order, player.PlayerID, alloc, result, err)
	}

	result.Status = ProcessStatusSubmitted
	result.RequestID = submitted.RequestID
	s.opts.Metrics.RecordSubmission(ProcessStatusSubmitted)
	s.recordSubmission(ctx, order, player.PlayerID, submitted)
	return result, nil
}

type allocation struct {
	productID uint
	groupID   string
	code      string
}

func (s *AutomationService) allocate(ctx context.Context, order *models.Order, decision *EligibilityDecision, playerID string) (*allocation, error) {
	var alloc *allocation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool := s.keyPool.WithTx(tx)
		for _, productID := range decision.ProductIDs {
			kind := "single"
			if decision.Setting.IsGroupProduct(productID) {
				kind = "group"
				bundle, err := pool.AllocateGroup(ctx, productID, order.ID)
				if errors.Is(err, ErrNoKeyAvailable) {
					s.opts.Metrics.RecordAllocation(kind, "empty")
					continue
				}
				if err != nil {
					s.opts.Metrics.RecordAllocation(kind, "error")
					return err
				}
				alloc = &allocation{productID: productID, groupID: bundle.GroupID, code: bundle.Joined()}
			} else {
				key, err := pool.AllocateSingle(ctx, productID, order.ID)
				if errors.Is(err, ErrNoKeyAvailable) {
					s.opts.Metrics.RecordAllocation(kind, "empty")
					continue
				}
				if err != nil {
					s.opts.Metrics.RecordAllocation(kind, "error")
					return err
				}
				alloc = &allocation{productID: productID, code: key.Code}
			}
			s.opts.Metrics.RecordAllocation(kind, "ok")
			break
		}
		if alloc == nil {
			return ErrNoKeyAvailable
		}
		return s.ledger.WithTx(tx).RecordAttempt(ctx, order.ID, playerID, alloc.code)
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

func (s *AutomationService) handleSubmitError(ctx context.Context, order *models.Order, playerID string, alloc *allocation, result *ProcessResult, err error) (*ProcessResult, error) {
	if errors.Is(err, automation.ErrRequestRejected) {
		result.Status = ProcessStatusRejected
		s.opts.Metrics.RecordSubmission(ProcessStatusRejected)
		logger.Warnw("automation_submit_rejected", "order_id", order.ID, "error", err)
		job := JobPayload{PlayerID: playerID, LicenseKey: alloc.code}
		if _, recErr := s.reconciler.ReconcileOrder(ctx, order.ID, job, constants.OutcomeFailure, err.Error()); recErr != nil {
			return result, recErr
		}
		return result, nil
	}

	// 远端不可用或响应异常时远端可能已受理，台账保持 running 由巡检对账，避免重复提交
	result.Status = ProcessStatusPendingRemote
	s.opts.Metrics.RecordSubmission(ProcessStatusPendingRemote)
	logger.Warnw("automation_submit_pending_remote", "order_id", order.ID, "error", err)
	s.updateStatus(ctx, order, constants.OrderStatusProcessing, constants.OrderMessageAwaiting)
	return result, nil
}

func (s *AutomationService) recordSubmission(ctx context.Context, order *models.Order, playerID string, submitted *automation.SubmitResult) {
	queueID := submitted.QueueID.String()
	if err := s.ledger.AttachRequest(ctx, order.ID, submitted.RequestID, queueID); err != nil {
		logger.Errorw("automation_attach_request_failed", "order_id", order.ID, "request_id", submitted.RequestID, "error", err)
	}
	ref := &cache.JobRef{OrderID: order.ID, RequestID: submitted.RequestID, QueueID: queueID, PlayerID: playerID}
	if err := cache.SetJobRef(ctx, ref, s.opts.JobRefTTL); err != nil {
		logger.Warnw("automation_job_ref_cache_failed", "order_id", order.ID, "error", err)
	}
	s.updateStatus(ctx, order, constants.OrderStatusProcessing, fmt.Sprintf(constants.OrderMessageSubmitted, submitted.RequestID))
	logger.Infow("automation_submitted",
		"order_id", order.ID,
		"request_id", submitted.RequestID,
		"queue_id", queueID,
	)
}

func (s *AutomationService) addNote(ctx context.Context, order *models.Order, message string) {
	if err := s.orders.AddNote(ctx, order.ID, order.Status, message); err != nil {
		logger.Warnw("automation_order_note_failed", "order_id", order.ID, "error", err)
	}
}

func (s *AutomationService) updateStatus(ctx context.Context, order *models.Order, status, message string) {
	if err := s.orders.UpdateStatus(ctx, order.ID, status, message); err != nil {
		logger.Warnw("automation_order_status_failed", "order_id", order.ID, "status", status, "error", err)
	}
}
