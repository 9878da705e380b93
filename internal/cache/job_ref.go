package cache

import (
	"context"
	"strings"
	"time"
)

const defaultJobRefTTL = 72 * time.Hour

// JobRef 远端任务与订单的映射快照
type JobRef struct {
	OrderID   uint   `json:"order_id"`
	RequestID string `json:"request_id"`
	QueueID   string `json:"queue_id,omitempty"`
	PlayerID  string `json:"player_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func jobRefKey(ref string) string {
	return "automation:job:" + strings.TrimSpace(ref)
}

// SetJobRef 按请求ID与队列ID写入映射
func SetJobRef(ctx context.Context, ref *JobRef, ttl time.Duration) error {
	if ref == nil || ref.OrderID == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultJobRefTTL
	}
	if ref.CreatedAt == 0 {
		ref.CreatedAt = time.Now().Unix()
	}
	return SetJSONMulti(ctx, jobRefKeys(ref), ref, ttl)
}

// GetJobRef 按请求ID或队列ID读取映射
func GetJobRef(ctx context.Context, ref string) (*JobRef, bool, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, false, nil
	}
	var state JobRef
	hit, err := GetJSON(ctx, jobRefKey(ref), &state)
	if err != nil || !hit {
		return nil, hit, err
	}
	return &state, true, nil
}

// DelJobRef 删除映射
func DelJobRef(ctx context.Context, ref *JobRef) error {
	if ref == nil {
		return nil
	}
	return Del(ctx, jobRefKeys(ref)...)
}

func jobRefKeys(ref *JobRef) []string {
	keys := make([]string, 0, 2)
	for _, id := range []string{ref.RequestID, ref.QueueID} {
		if strings.TrimSpace(id) != "" {
			keys = append(keys, jobRefKey(id))
		}
	}
	return keys
}
