package automation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// FlexibleID 兼容数字与字符串的标识字段
type FlexibleID string

// UnmarshalJSON 支持 "42"、42 与 null
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

// String 返回文本值
func (f FlexibleID) String() string {
	return string(f)
}

// Uint 解析为正整数，失败返回 0
func (f FlexibleID) Uint() uint {
	value := strings.TrimSpace(string(f))
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		if fv, ferr := strconv.ParseFloat(value, 64); ferr == nil && fv > 0 && fv == float64(uint64(fv)) {
			return uint(fv)
		}
		return 0
	}
	return uint(parsed)
}

// SubmitRequest 提交任务请求体
type SubmitRequest struct {
	PlayerID string                 `json:"playerId"`
	Code     string                 `json:"code"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SubmitResult 提交任务结果
type SubmitResult struct {
	RequestID string     `json:"requestId"`
	QueueID   FlexibleID `json:"queueId,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// QueueRef 队列项中的订单引用
type QueueRef struct {
	OrderID FlexibleID `json:"orderId"`
}

// JobResult 历史执行结果
type JobResult struct {
	RequestID   string     `json:"requestId"`
	QueueID     FlexibleID `json:"queueId"`
	OrderID     FlexibleID `json:"orderId"`
	Queue       *QueueRef  `json:"queue,omitempty"`
	PlayerID    string     `json:"playerId"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ResultPage 结果分页
type ResultPage struct {
	Results  []JobResult `json:"results"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
	Total    int         `json:"total"`
}

// QueueItem 最近队列项
type QueueItem struct {
	ID        FlexibleID `json:"id"`
	RequestID string     `json:"requestId"`
	OrderID   FlexibleID `json:"orderId"`
	PlayerID  string     `json:"playerId"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// ServerStatus 远端服务状态
type ServerStatus struct {
	Online      bool                   `json:"online"`
	QueueLength int                    `json:"queueLength"`
	Processing  int                    `json:"processing"`
	Raw         map[string]interface{} `json:"-"`
}

// DatabaseStats 远端数据库统计（字段由远端决定）
type DatabaseStats map[string]interface{}
