package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keyrelay/internal/automation"
	"github.com/keyrelay/internal/constants"
)

// JobPayload job-update 事件中的任务信息
type JobPayload struct {
	RequestID  string                `json:"requestId"`
	OrderID    automation.FlexibleID `json:"orderId"`
	Queue      *automation.QueueRef  `json:"queue,omitempty"`
	QueueID    automation.FlexibleID `json:"queueId"`
	PlayerID   string                `json:"playerId"`
	LicenseKey string                `json:"licenseKey"`
	Error      string                `json:"error"`
}

// Key 分片键：同一任务的事件串行处理
func (p JobPayload) Key() string {
	if id := strings.TrimSpace(p.OrderID.String()); id != "" {
		return "order:" + id
	}
	if p.Queue != nil {
		if id := strings.TrimSpace(p.Queue.OrderID.String()); id != "" {
			return "order:" + id
		}
	}
	if id := strings.TrimSpace(p.RequestID); id != "" {
		return "request:" + id
	}
	return "queue:" + strings.TrimSpace(p.QueueID.String())
}

// JobEvent 任务生命周期事件
type JobEvent interface {
	Type() string
	Job() JobPayload
}

// JobStarted 任务开始
type JobStarted struct{ Payload JobPayload }

// JobCompleted 任务完成
type JobCompleted struct{ Payload JobPayload }

// JobFailed 任务失败
type JobFailed struct{ Payload JobPayload }

// JobCancelled 任务取消
type JobCancelled struct{ Payload JobPayload }

func (e JobStarted) Type() string      { return constants.JobEventStarted }
func (e JobStarted) Job() JobPayload   { return e.Payload }
func (e JobCompleted) Type() string    { return constants.JobEventCompleted }
func (e JobCompleted) Job() JobPayload { return e.Payload }
func (e JobFailed) Type() string       { return constants.JobEventFailed }
func (e JobFailed) Job() JobPayload    { return e.Payload }
func (e JobCancelled) Type() string    { return constants.JobEventCancelled }
func (e JobCancelled) Job() JobPayload { return e.Payload }

type jobUpdateEnvelope struct {
	Type string      `json:"type"`
	Job  *JobPayload `json:"job"`
}

// DecodeJobEvent 解析 job-update 事件载荷
func DecodeJobEvent(raw []byte) (JobEvent, error) {
	var envelope jobUpdateEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobEvent, err)
	}
	if envelope.Job == nil {
		return nil, fmt.Errorf("%w: missing job", ErrInvalidJobEvent)
	}
	job := *envelope.Job
	job.RequestID = strings.TrimSpace(job.RequestID)
	job.PlayerID = strings.TrimSpace(job.PlayerID)

	switch strings.ToLower(strings.TrimSpace(envelope.Type)) {
	case constants.JobEventStarted:
		return JobStarted{Payload: job}, nil
	case constants.JobEventCompleted:
		return JobCompleted{Payload: job}, nil
	case constants.JobEventFailed:
		return JobFailed{Payload: job}, nil
	case constants.JobEventCancelled:
		return JobCancelled{Payload: job}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobEvent, envelope.Type)
	}
}
