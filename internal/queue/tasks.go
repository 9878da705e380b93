package queue

import (
	"encoding/json"

	"github.com/keyrelay/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskAutomationSubmit 自动化提交任务
	TaskAutomationSubmit = constants.TaskAutomationSubmit
	// TaskAutomationAlert 管理员告警任务
	TaskAutomationAlert = constants.TaskAutomationAlert
)

// AutomationSubmitPayload 自动化提交任务载荷
type AutomationSubmitPayload struct {
	OrderID uint `json:"order_id"`
}

// AutomationAlertPayload 管理员告警任务载荷
type AutomationAlertPayload struct {
	Kind       string `json:"kind"`
	OrderID    uint   `json:"order_id"`
	QueueID    string `json:"queue_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	PlayerID   string `json:"player_id,omitempty"`
	LicenseKey string `json:"license_key,omitempty"`
	Error      string `json:"error,omitempty"`
	OccurredAt int64  `json:"occurred_at"`
	SourceSite string `json:"source_site,omitempty"`
}

// NewAutomationSubmitTask 创建自动化提交任务
func NewAutomationSubmitTask(payload AutomationSubmitPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutomationSubmit, body), nil
}

// NewAutomationAlertTask 创建管理员告警任务
func NewAutomationAlertTask(payload AutomationAlertPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutomationAlert, body), nil
}
