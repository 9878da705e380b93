package provider

import (
	"github.com/keyrelay/internal/automation"
	"github.com/keyrelay/internal/cache"
	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/metrics"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/queue"
	"github.com/keyrelay/internal/repository"
	"github.com/keyrelay/internal/secret"
	"github.com/keyrelay/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Metrics     *metrics.Registry
	Cipher      secret.Cipher

	// AutomationClient 未启用自动化或配置无效时为 nil
	AutomationClient *automation.Client

	// Repositories
	AdminRepo      repository.AdminRepository
	OrderRepo      repository.OrderRepository
	SettingRepo    repository.SettingRepository
	LicenseKeyRepo repository.LicenseKeyRepository
	LedgerRepo     repository.AutomationLedgerRepository

	// Services
	AuthService           *service.AuthService
	EmailService          *service.EmailService
	SettingService        *service.SettingService
	KeyPoolService        *service.KeyPoolService
	LedgerService         *service.AutomationLedgerService
	EligibilityService    *service.EligibilityService
	PlayerIDResolver      *service.PlayerIDResolver
	AlertService          *service.AlertService
	JobOrderResolver      *service.JobOrderResolver
	ReconciliationService *service.ReconciliationService
	AutomationService     *service.AutomationService
	ReconcileSweeper      *service.ReconcileSweeper
	Diagnostics           *service.AutomationDiagnostics
	JobEventRouter        *service.JobEventRouter
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	cipher, err := secret.NewFromConfig(cfg.Secret.EncryptionKey, cfg.Secret.HashKey)
	if err != nil {
		logger.Errorw("provider_init_cipher_failed", "error", err)
		panic(err)
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Metrics:     metrics.Default(),
		Cipher:      cipher,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化远端客户端
	c.initAutomationClient()

	// 3. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.AdminRepo = repository.NewAdminRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.SettingRepo = repository.NewSettingRepository(db)
	c.LicenseKeyRepo = repository.NewLicenseKeyRepository(db)
	c.LedgerRepo = repository.NewAutomationLedgerRepository(db)
}

func (c *Container) initAutomationClient() {
	cfg := c.Config.Automation
	if !cfg.Enabled {
		logger.Infow("provider_automation_disabled")
		return
	}
	client, err := automation.NewClient(automation.Config{
		BaseURL:          cfg.ServerURL,
		APIKey:           cfg.APIKey,
		SubmitTimeout:    cfg.SubmitTimeout(),
		QueryTimeout:     cfg.QueryTimeout(),
		SubmitRatePerSec: cfg.SubmitRatePerSec,
	}, automation.WithObserver(c.Metrics.RecordRemoteCall))
	if err != nil {
		logger.Errorw("provider_init_automation_client_failed", "server_url", cfg.ServerURL, "error", err)
		return
	}
	c.AutomationClient = client
}

func (c *Container) initServices() {
	db := models.DB
	automationCfg := c.Config.Automation

	c.SettingService = service.NewSettingService(c.SettingRepo, automationCfg.PlayerIDMetaKey)
	c.EmailService = service.NewEmailService(&c.Config.Email)
	c.AuthService = service.NewAuthService(c.Config, c.AdminRepo)

	c.KeyPoolService = service.NewKeyPoolService(c.LicenseKeyRepo, c.Cipher)
	c.LedgerService = service.NewAutomationLedgerService(c.LedgerRepo, c.Cipher)
	c.EligibilityService = service.NewEligibilityService(c.LedgerService, c.SettingService)
	c.PlayerIDResolver = service.NewPlayerIDResolver(c.OrderRepo, c.SettingService)
	c.AlertService = service.NewAlertService(c.Config.Alert, c.EmailService, c.QueueClient, c.Metrics)
	c.JobOrderResolver = service.NewJobOrderResolver(c.LedgerService)
	c.ReconciliationService = service.NewReconciliationService(
		c.LedgerService,
		c.OrderRepo,
		c.AlertService,
		c.JobOrderResolver,
		service.ReconciliationOptions{
			RetryAttempts: automationCfg.StoreRetryAttempts,
			RetryDelay:    automationCfg.StoreRetryDelay(),
			Metrics:       c.Metrics,
		},
	)
	c.JobEventRouter = service.NewJobEventRouter(c.ReconciliationService, service.JobEventRouterOptions{
		Workers:   automationCfg.RouterWorkers,
		QueueSize: automationCfg.RouterQueueSize,
		Metrics:   c.Metrics,
	})

	var submitter service.JobSubmitter
	var diagnostics service.DiagnosticsSource
	if c.AutomationClient != nil {
		submitter = c.AutomationClient
		diagnostics = c.AutomationClient
	}
	c.AutomationService = service.NewAutomationService(
		db,
		c.OrderRepo,
		c.EligibilityService,
		c.PlayerIDResolver,
		c.KeyPoolService,
		c.LedgerService,
		submitter,
		c.ReconciliationService,
		c.AlertService,
		c.QueueClient,
		service.AutomationServiceOptions{
			Enabled:   c.AutomationClient != nil,
			JobRefTTL: automationCfg.JobRefTTL(),
			Metrics:   c.Metrics,
		},
	)
	c.Diagnostics = service.NewAutomationDiagnostics(diagnostics, c.KeyPoolService)
	if c.AutomationClient != nil {
		c.ReconcileSweeper = service.NewReconcileSweeper(c.LedgerService, c.AutomationClient, c.ReconciliationService, service.ReconcileSweeperOptions{
			Grace:          automationCfg.SweepGrace(),
			MaxAge:         automationCfg.SweepMaxAge(),
			PageSize:       automationCfg.SweepPageSize,
			MaxResultPages: automationCfg.SweepMaxResultPages,
			Metrics:        c.Metrics,
		})
	}
}
