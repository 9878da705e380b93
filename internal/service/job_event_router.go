package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/metrics"
)

// 事件丢弃原因
const (
	dropReasonUnknownType  = "unknown_type"
	dropReasonInvalid      = "invalid_payload"
	dropReasonUnresolvable = "unresolvable_order"
)

// JobEventHandler 事件落地处理
type JobEventHandler interface {
	MarkStarted(ctx context.Context, job JobPayload) error
	Reconcile(ctx context.Context, job JobPayload, outcome, message string) (bool, error)
}

// JobEventRouterOptions 路由器选项
type JobEventRouterOptions struct {
	Workers   int
	QueueSize int
	Metrics   *metrics.Registry
}

// JobEventRouter 按任务分片的事件分发器：同一订单串行，不同订单并发
type JobEventRouter struct {
	handler JobEventHandler
	metrics *metrics.Registry
	shards  []chan JobEvent

	mu      sync.RWMutex
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewJobEventRouter 创建事件分发器
func NewJobEventRouter(handler JobEventHandler, opts JobEventRouterOptions) *JobEventRouter {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	shards := make([]chan JobEvent, opts.Workers)
	for i := range shards {
		shards[i] = make(chan JobEvent, opts.QueueSize)
	}
	return &JobEventRouter{
		handler: handler,
		metrics: opts.Metrics,
		shards:  shards,
	}
}

// Start 启动分片 worker
func (r *JobEventRouter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	for i, ch := range r.shards {
		r.wg.Add(1)
		go r.runShard(ctx, i, ch)
	}
	logger.Infow("job_event_router_started", "workers", len(r.shards))
}

// Stop 停止接收事件并等待已入队事件处理完毕
func (r *JobEventRouter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
	logger.Infow("job_event_router_stopped")
}

// HandlePayload 解析 job-update 载荷并入队，解析失败的事件直接丢弃
func (r *JobEventRouter) HandlePayload(ctx context.Context, raw []byte) error {
	event, err := DecodeJobEvent(raw)
	if err != nil {
		reason := dropReasonInvalid
		if errors.Is(err, ErrUnknownJobEvent) {
			reason = dropReasonUnknownType
		}
		r.metrics.RecordDroppedEvent(reason)
		logger.Warnw("job_event_dropped", "reason", reason, "error", err)
		return err
	}
	return r.Enqueue(ctx, event)
}

// Enqueue 将事件投递到对应分片，队列满时阻塞直到 ctx 结束
func (r *JobEventRouter) Enqueue(ctx context.Context, event JobEvent) error {
	if event == nil {
		return ErrInvalidJobEvent
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrRouterStopped
	}
	r.metrics.RecordJobEvent(event.Type())
	ch := r.shards[r.shardFor(event.Job().Key())]
	select {
	case ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *JobEventRouter) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(r.shards)))
}

func (r *JobEventRouter) runShard(ctx context.Context, index int, ch <-chan JobEvent) {
	defer r.wg.Done()
	for event := range ch {
		err := r.Dispatch(ctx, event)
		if err == nil {
			continue
		}
		job := event.Job()
		if errors.Is(err, ErrUnresolvableOrder) {
			r.metrics.RecordDroppedEvent(dropReasonUnresolvable)
			logger.Warnw("job_event_unresolvable_order",
				"shard", index,
				"type", event.Type(),
				"request_id", job.RequestID,
				"queue_id", job.QueueID.String(),
			)
			continue
		}
		logger.Errorw("job_event_dispatch_failed",
			"shard", index,
			"type", event.Type(),
			"request_id", job.RequestID,
			"error", err,
		)
	}
}

// Dispatch 按事件类型落地处理
func (r *JobEventRouter) Dispatch(ctx context.Context, event JobEvent) error {
	switch e := event.(type) {
	case JobStarted:
		return r.handler.MarkStarted(ctx, e.Payload)
	case JobCompleted:
		_, err := r.handler.Reconcile(ctx, e.Payload, constants.OutcomeSuccess, "")
		return err
	case JobFailed:
		_, err := r.handler.Reconcile(ctx, e.Payload, constants.OutcomeFailure, e.Payload.Error)
		return err
	case JobCancelled:
		_, err := r.handler.Reconcile(ctx, e.Payload, constants.OutcomeFailure, constants.CancelledJobMessage)
		return err
	default:
		return ErrUnknownJobEvent
	}
}
