package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault

	defaultConcurrency    = 10
	defaultSubmitMaxRetry = 5
	alertTaskTimeout      = 30 * time.Second
	submitTaskTimeout     = 2 * time.Minute
	completedRetention    = 24 * time.Hour
	maxRetryDelay         = 10 * time.Minute
	shutdownTimeout       = 20 * time.Second
)

// Client 队列客户端封装，未启用时所有入队操作为空操作
type Client struct {
	client         *asynq.Client
	submitMaxRetry int
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{}, nil
	}
	maxRetry := cfg.SubmitMaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultSubmitMaxRetry
	}
	return &Client{
		client:         asynq.NewClient(buildRedisOpt(cfg)),
		submitMaxRetry: maxRetry,
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// EnqueueAutomationSubmit 推送自动化提交任务，同一订单同时只存在一个任务
func (c *Client) EnqueueAutomationSubmit(ctx context.Context, payload AutomationSubmitPayload, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewAutomationSubmitTask(payload)
	if err != nil {
		return err
	}
	options := append([]asynq.Option{
		asynq.Queue(DefaultQueue),
		asynq.TaskID(SubmitTaskID(payload.OrderID)),
		asynq.MaxRetry(c.submitMaxRetry),
		asynq.Timeout(submitTaskTimeout),
		asynq.Retention(completedRetention),
	}, opts...)
	info, err := c.client.EnqueueContext(ctx, task, options...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Debugw("queue_submit_task_exists", "order_id", payload.OrderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskAutomationSubmit, err)
	}
	logger.Debugw("queue_submit_task_enqueued", "order_id", payload.OrderID, "task_id", info.ID)
	return nil
}

// EnqueueAutomationAlert 推送管理员告警任务，走 critical 队列
func (c *Client) EnqueueAutomationAlert(ctx context.Context, payload AutomationAlertPayload, maxRetry int, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewAutomationAlertTask(payload)
	if err != nil {
		return err
	}
	options := append([]asynq.Option{
		asynq.Queue(constants.QueueCritical),
		asynq.MaxRetry(max(maxRetry, 0)),
		asynq.Timeout(alertTaskTimeout),
	}, opts...)
	if _, err := c.client.EnqueueContext(ctx, task, options...); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskAutomationAlert, err)
	}
	return nil
}

// SubmitTaskID 订单提交任务的去重 ID
func SubmitTaskID(orderID uint) string {
	return fmt.Sprintf("automation-submit-%d", orderID)
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	concurrency := defaultConcurrency
	queues := map[string]int{DefaultQueue: 2, constants.QueueCritical: 1}
	if cfg != nil {
		if cfg.Concurrency > 0 {
			concurrency = cfg.Concurrency
		}
		if len(cfg.Queues) > 0 {
			queues = cfg.Queues
		}
	}
	return buildRedisOpt(cfg), asynq.Config{
		Concurrency:     concurrency,
		Queues:          queues,
		RetryDelayFunc:  RetryDelay,
		ShutdownTimeout: shutdownTimeout,
		Logger:          taskLogger{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warnw("queue_task_failed",
				"task_type", task.Type(),
				"retried", retried,
				"max_retry", maxRetry,
				"error", err,
			)
		}),
	}
}

// RetryDelay 指数退避：2^n 秒，上限 10 分钟
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := time.Duration(math.Pow(2, float64(min(n, 10)))) * time.Second
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	opt := asynq.RedisClientOpt{}
	if cfg != nil {
		if h := strings.TrimSpace(cfg.Host); h != "" {
			host = h
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		opt.Password = cfg.Password
		opt.DB = cfg.DB
	}
	opt.Addr = fmt.Sprintf("%s:%d", host, port)
	return opt
}

// taskLogger 将 asynq 内部日志接入 zap
type taskLogger struct{}

func (taskLogger) Debug(args ...interface{}) { logger.Component("asynq").Debug(args...) }
func (taskLogger) Info(args ...interface{})  { logger.Component("asynq").Info(args...) }
func (taskLogger) Warn(args ...interface{})  { logger.Component("asynq").Warn(args...) }
func (taskLogger) Error(args ...interface{}) { logger.Component("asynq").Error(args...) }
func (taskLogger) Fatal(args ...interface{}) { logger.Component("asynq").Fatal(args...) }
