package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/provider"
	"github.com/keyrelay/internal/queue"
	"github.com/keyrelay/internal/service"

	"github.com/hibiken/asynq"
)

// OrderProcessor 订单自动化处理
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, orderID uint) (*service.ProcessResult, error)
}

// AlertDeliverer 告警投递
type AlertDeliverer interface {
	DeliverPayload(ctx context.Context, payload queue.AutomationAlertPayload) error
}

// Consumer 异步任务消费者
type Consumer struct {
	orders  OrderProcessor
	alerts  AlertDeliverer
	sweeper Sweeper
}

// NewConsumer 从容器取出消费所需的服务
func NewConsumer(c *provider.Container) *Consumer {
	consumer := &Consumer{}
	if c == nil {
		return consumer
	}
	if c.AutomationService != nil {
		consumer.orders = c.AutomationService
	}
	if c.AlertService != nil {
		consumer.alerts = c.AlertService
	}
	if c.ReconcileSweeper != nil {
		consumer.sweeper = c.ReconcileSweeper
	}
	return consumer
}

// Register 注册任务处理函数
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		return
	}
	mux.HandleFunc(queue.TaskAutomationSubmit, c.handleAutomationSubmit)
	mux.HandleFunc(queue.TaskAutomationAlert, c.handleAutomationAlert)
}

// decodePayload 载荷无法解析时不再重试
func decodePayload[T any](task *asynq.Task) (T, error) {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}

func (c *Consumer) handleAutomationSubmit(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.orders == nil {
		return nil
	}
	payload, err := decodePayload[queue.AutomationSubmitPayload](task)
	if err != nil {
		logger.Warnw("worker_automation_submit_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 {
		return nil
	}
	result, err := c.orders.ProcessOrder(ctx, payload.OrderID)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrAutomationDisabled):
		logger.Debugw("worker_automation_submit_skip", "order_id", payload.OrderID, "reason", err.Error())
		return nil
	default:
		retried, _ := asynq.GetRetryCount(ctx)
		logger.Warnw("worker_automation_submit_failed", "order_id", payload.OrderID, "retried", retried, "error", err)
		return err
	}
	logger.Infow("worker_automation_submit_done",
		"order_id", payload.OrderID,
		"status", result.Status,
		"reason", result.Reason,
	)
	return nil
}

func (c *Consumer) handleAutomationAlert(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.alerts == nil {
		return nil
	}
	payload, err := decodePayload[queue.AutomationAlertPayload](task)
	if err != nil {
		logger.Warnw("worker_automation_alert_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 && payload.Kind == "" {
		return nil
	}
	err = c.alerts.DeliverPayload(ctx, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrAlertNotConfigured):
		logger.Debugw("worker_automation_alert_skip_not_configured", "order_id", payload.OrderID)
		return nil
	case errors.Is(err, service.ErrEmailRecipientRejected), errors.Is(err, service.ErrInvalidEmail):
		logger.Warnw("worker_automation_alert_undeliverable", "order_id", payload.OrderID, "kind", payload.Kind, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		logger.Warnw("worker_automation_alert_failed", "order_id", payload.OrderID, "kind", payload.Kind, "error", err)
		return err
	}
}
