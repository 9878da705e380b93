package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/metrics"
	"github.com/keyrelay/internal/realtime"
	"github.com/keyrelay/internal/service"

	"go.uber.org/zap"
)

// RealtimeService 订阅远端任务推送并交给事件路由处理
type RealtimeService struct {
	name    string
	client  *realtime.Client
	router  *service.JobEventRouter
	sweeper *service.ReconcileSweeper
	metrics *metrics.Registry
	log     *zap.SugaredLogger
}

// NewRealtimeService 创建实时推送服务
func NewRealtimeService(cfg config.AutomationConfig, router *service.JobEventRouter, sweeper *service.ReconcileSweeper, registry *metrics.Registry) (*RealtimeService, error) {
	if router == nil {
		return nil, errors.New("job event router is nil")
	}
	socketURL := strings.TrimSpace(cfg.SocketURL)
	if socketURL == "" {
		socketURL = strings.TrimSpace(cfg.ServerURL)
	}
	room := strings.TrimSpace(cfg.Room)
	if room == "" {
		room = constants.RealtimeRoomAutomation
	}
	s := &RealtimeService{
		name:    "realtime",
		router:  router,
		sweeper: sweeper,
		metrics: registry,
		log:     logger.Component("realtime"),
	}
	client, err := realtime.NewClient(realtime.Config{
		URL:          socketURL,
		Room:         room,
		JoinEvent:    constants.RealtimeEventJoinRoom,
		APIKey:       cfg.APIKey,
		ReconnectMin: time.Duration(cfg.ReconnectSeconds) * time.Second,
		ReconnectMax: time.Duration(cfg.MaxReconnectSeconds) * time.Second,
	}, s.handleEvent, realtime.Hooks{
		OnConnect:    s.onConnect,
		OnDisconnect: s.onDisconnect,
		OnReconnect:  s.onReconnect,
	})
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

// Name 服务名称
func (s *RealtimeService) Name() string {
	if s == nil || s.name == "" {
		return "realtime"
	}
	return s.name
}

// Start 启动事件路由并保持推送连接
func (s *RealtimeService) Start(ctx context.Context) error {
	if s == nil || s.client == nil || s.router == nil {
		return errors.New("realtime service not initialized")
	}
	s.router.Start(ctx)
	if err := s.client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop 停止接收并等待已入队事件处理完
func (s *RealtimeService) Stop(ctx context.Context) error {
	if s == nil || s.router == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.router.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RealtimeService) handleEvent(ctx context.Context, event realtime.Event) {
	if event.Name != constants.RealtimeEventJobUpdate {
		s.log.Debugw("realtime_event_ignored", "event", event.Name)
		return
	}
	for _, arg := range event.Args {
		if err := s.router.HandlePayload(ctx, arg); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debugw("realtime_job_update_rejected", "error", err)
		}
	}
}

// onConnect 重连后补偿断线期间可能丢失的终态事件
func (s *RealtimeService) onConnect(ctx context.Context) {
	s.metrics.SetRealtimeConnected(true)
	if s.sweeper == nil {
		return
	}
	go func() {
		if _, err := s.sweeper.Sweep(ctx); err != nil && !errors.Is(err, service.ErrSweepInProgress) {
			s.log.Warnw("realtime_connect_sweep_failed", "error", err)
		}
	}()
}

func (s *RealtimeService) onDisconnect(err error) {
	s.metrics.SetRealtimeConnected(false)
}

func (s *RealtimeService) onReconnect(attempt int) {
	s.log.Debugw("realtime_reconnect", "attempt", attempt)
	s.metrics.RecordReconnect()
}
