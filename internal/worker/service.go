package worker

import (
	"context"
	"errors"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/queue"
	"github.com/keyrelay/internal/service"

	"github.com/hibiken/asynq"
)

// Sweeper 巡检对账入口
type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepReport, error)
}

// Service 后台任务服务：消费异步队列并周期性巡检对账
// 队列未启用时只运行巡检
type Service struct {
	name          string
	server        *asynq.Server
	mux           *asynq.ServeMux
	consumer      *Consumer
	sweeper       Sweeper
	sweepInterval time.Duration
}

// NewService 创建后台任务服务
func NewService(cfg *config.Config, consumer *Consumer) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	s := &Service{
		name:          "worker",
		consumer:      consumer,
		sweepInterval: cfg.Automation.SweepInterval(),
	}
	s.sweeper = consumer.sweeper
	if cfg.Queue.Enabled {
		opt, serverCfg := queue.BuildServerConfig(&cfg.Queue)
		s.server = asynq.NewServer(opt, serverCfg)
		s.mux = asynq.NewServeMux()
		consumer.Register(s.mux)
	}
	if s.server == nil && s.sweeper == nil {
		return nil, errors.New("worker has nothing to run: queue and automation both disabled")
	}
	return s, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || (s.server == nil && s.sweeper == nil) {
		return errors.New("worker not initialized")
	}
	if s.sweeper != nil {
		go s.runSweepLoop(ctx)
	}
	if s.server != nil {
		if err := s.server.Start(s.mux); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

func (s *Service) runSweepLoop(ctx context.Context) {
	if s == nil || s.sweeper == nil {
		return
	}
	runOnce := func() {
		report, err := s.sweeper.Sweep(ctx)
		switch {
		case err == nil:
			if report != nil && report.Reconciled > 0 {
				logger.Infow("worker_sweep_reconciled", "reconciled", report.Reconciled, "pending", report.Pending)
			}
		case errors.Is(err, service.ErrSweepInProgress), errors.Is(err, context.Canceled):
		default:
			logger.Warnw("worker_sweep_failed", "error", err)
		}
	}
	runOnce()

	interval := s.sweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
