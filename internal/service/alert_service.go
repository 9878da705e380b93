package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/metrics"
	"github.com/keyrelay/internal/queue"
)

// 告警类型
const (
	AlertKindAutomationFailed = "automation_failed"
	AlertKindNoKeyAvailable   = "no_key_available"
	AlertKindStoreFailure     = "store_failure"
	AlertKindSubmitRejected   = "submit_rejected"
)

// AlertMailer 告警邮件发送
type AlertMailer interface {
	SendTextEmail(ctx context.Context, recipients []string, subject, body string) error
}

// AutomationAlert 管理员告警内容
type AutomationAlert struct {
	Kind       string
	OrderID    uint
	QueueID    string
	RequestID  string
	PlayerID   string
	LicenseKey string
	Error      string
	OccurredAt time.Time
}

// AlertService 管理员告警服务，发送失败不影响订单回写
type AlertService struct {
	cfg         config.AlertConfig
	mailer      AlertMailer
	queueClient *queue.Client
	metrics     *metrics.Registry
}

// NewAlertService 创建告警服务
func NewAlertService(cfg config.AlertConfig, mailer AlertMailer, queueClient *queue.Client, registry *metrics.Registry) *AlertService {
	return &AlertService{cfg: cfg, mailer: mailer, queueClient: queueClient, metrics: registry}
}

// Notify 发送告警：队列可用时入队，否则在固定超时内直接发送
func (s *AlertService) Notify(ctx context.Context, alert AutomationAlert) {
	if s == nil {
		return
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now()
	}
	if s.queueClient != nil && s.queueClient.Enabled() {
		err := s.queueClient.EnqueueAutomationAlert(ctx, s.toPayload(alert), s.cfg.MaxRetry)
		if err == nil {
			s.metrics.RecordAlert(alert.Kind, "queued")
			return
		}
		logger.Warnw("alert_enqueue_failed", "order_id", alert.OrderID, "kind", alert.Kind, "error", err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout())
	defer cancel()
	if err := s.Deliver(sendCtx, alert); err != nil {
		logger.Warnw("alert_deliver_failed", "order_id", alert.OrderID, "kind", alert.Kind, "error", err)
	}
}

// Deliver 同步发送告警邮件
func (s *AlertService) Deliver(ctx context.Context, alert AutomationAlert) error {
	recipients := s.recipients()
	if len(recipients) == 0 || s.mailer == nil {
		s.metrics.RecordAlert(alert.Kind, "skipped")
		return ErrAlertNotConfigured
	}
	subject, body := BuildAlertContent(alert, s.cfg.SourceSite)
	if err := s.mailer.SendTextEmail(ctx, recipients, subject, body); err != nil {
		s.metrics.RecordAlert(alert.Kind, "failed")
		return err
	}
	s.metrics.RecordAlert(alert.Kind, "sent")
	logger.Infow("alert_delivered", "order_id", alert.OrderID, "kind", alert.Kind, "recipients", len(recipients))
	return nil
}

// DeliverPayload 处理队列中的告警任务
func (s *AlertService) DeliverPayload(ctx context.Context, payload queue.AutomationAlertPayload) error {
	alert := AutomationAlert{
		Kind:       payload.Kind,
		OrderID:    payload.OrderID,
		QueueID:    payload.QueueID,
		RequestID:  payload.RequestID,
		PlayerID:   payload.PlayerID,
		LicenseKey: payload.LicenseKey,
		Error:      payload.Error,
		OccurredAt: time.Unix(payload.OccurredAt, 0),
	}
	if payload.OccurredAt == 0 {
		alert.OccurredAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()
	return s.Deliver(ctx, alert)
}

func (s *AlertService) recipients() []string {
	out := make([]string, 0, len(s.cfg.Recipients))
	for _, r := range s.cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func (s *AlertService) toPayload(alert AutomationAlert) queue.AutomationAlertPayload {
	return queue.AutomationAlertPayload{
		Kind:       alert.Kind,
		OrderID:    alert.OrderID,
		QueueID:    alert.QueueID,
		RequestID:  alert.RequestID,
		PlayerID:   alert.PlayerID,
		LicenseKey: alert.LicenseKey,
		Error:      alert.Error,
		OccurredAt: alert.OccurredAt.Unix(),
		SourceSite: s.cfg.SourceSite,
	}
}

// BuildAlertContent 生成告警邮件标题与正文
func BuildAlertContent(alert AutomationAlert, sourceSite string) (string, string) {
	site := strings.TrimSpace(sourceSite)
	if site == "" {
		site = "keyrelay"
	}
	var subject string
	switch alert.Kind {
	case AlertKindNoKeyAvailable:
		subject = fmt.Sprintf("[%s] License key pool empty for order #%d", site, alert.OrderID)
	case AlertKindStoreFailure:
		subject = fmt.Sprintf("[%s] Order #%d write-back failed", site, alert.OrderID)
	case AlertKindSubmitRejected:
		subject = fmt.Sprintf("[%s] Automation submit rejected for order #%d", site, alert.OrderID)
	default:
		subject = fmt.Sprintf("[%s] Automation failed for order #%d", site, alert.OrderID)
	}

	lines := []string{
		fmt.Sprintf("Order ID: %d", alert.OrderID),
		fmt.Sprintf("Queue ID: %s", valueOrDash(alert.QueueID)),
		fmt.Sprintf("Request ID: %s", valueOrDash(alert.RequestID)),
		fmt.Sprintf("Player ID: %s", valueOrDash(alert.PlayerID)),
		fmt.Sprintf("License Key: %s", valueOrDash(alert.LicenseKey)),
		fmt.Sprintf("Error: %s", valueOrDash(alert.Error)),
		fmt.Sprintf("Time: %s", alert.OccurredAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Source Site: %s", site),
		"",
		constants.AlertRetryDisabledNotes,
	}
	return subject, strings.Join(lines, "\n")
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
