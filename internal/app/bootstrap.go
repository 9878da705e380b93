package app

import (
	"errors"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/provider"
	"github.com/keyrelay/internal/router"
	"github.com/keyrelay/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	mode, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	plan := Options{Mode: mode}

	container := provider.NewContainer(cfg)

	var services []Service

	// 初始化 HTTP 服务
	if plan.runsHTTP() {
		engine := router.SetupRouter(cfg, container)
		services = append(services, NewHTTPService(cfg.Server.Addr(), engine))
	}

	// 初始化 Worker 服务
	if plan.runsWorker() {
		consumer := worker.NewConsumer(container)
		workerService, err := worker.NewService(cfg, consumer)
		if err != nil {
			return nil, err
		}
		services = append(services, workerService)

		// 实时推送随 worker 进程订阅
		if container.AutomationClient != nil {
			realtimeService, err := NewRealtimeService(cfg.Automation, container.JobEventRouter, container.ReconcileSweeper, container.Metrics)
			if err != nil {
				return nil, err
			}
			services = append(services, realtimeService)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized")
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	opts.Logger.Infow("app_start", "addr", opts.Config.Server.Addr(), "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
