package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/keyrelay/internal/cache"
	"github.com/keyrelay/internal/config"
	adminhandlers "github.com/keyrelay/internal/http/handlers/admin"
	"github.com/keyrelay/internal/http/response"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/provider"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "kr"
	}
	redisClient := cache.Client()
	adminLoginRule := RateLimitRule{
		Name:          "admin_login",
		Prefix:        fmt.Sprintf("%s:rate:admin_login", redisPrefix),
		WindowSeconds: cfg.Security.LoginRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.LoginRateLimit.MaxAttempts,
		MessageKey:    "error.too_many_requests",
	}
	hookRule := RateLimitRule{
		Name:          "order_hook",
		Prefix:        fmt.Sprintf("%s:rate:order_hook", redisPrefix),
		WindowSeconds: cfg.Security.HookRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.HookRateLimit.MaxAttempts,
	}

	// 中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(MetricsMiddleware(c.Metrics))

	r.GET("/health", healthHandler)
	r.GET("/metrics", gin.WrapH(c.Metrics.Handler()))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		adminAPI := apiV1.Group("/admin")
		adminAPI.POST("/login", RateLimitMiddleware(redisClient, adminLoginRule, KeyByIPAndJSONField("username"), c.Metrics), adminHandler.AdminLogin)

		authorized := adminAPI.Group("")
		authorized.Use(JWTAuthMiddleware(c.AuthService))
		{
			authorized.GET("/profile", adminHandler.GetAdminProfile)
			authorized.PUT("/password", adminHandler.ChangePassword)

			// 卡密池
			authorized.POST("/license-keys", adminHandler.ImportLicenseKeys)
			authorized.POST("/license-keys/groups", adminHandler.ImportLicenseGroup)
			authorized.GET("/license-keys", adminHandler.ListLicenseKeys)
			authorized.GET("/license-keys/stats", adminHandler.GetKeyPoolStats)
			authorized.DELETE("/license-keys/:id", adminHandler.DeleteLicenseKey)

			// 自动化
			authorized.GET("/automation/settings", adminHandler.GetAutomationSetting)
			authorized.PUT("/automation/settings", adminHandler.UpdateAutomationSetting)
			authorized.GET("/automation/ledger", adminHandler.ListAutomationLedger)
			authorized.GET("/automation/diagnostics", adminHandler.GetAutomationDiagnostics)
			authorized.POST("/automation/sweep", adminHandler.TriggerReconcileSweep)

			// 订单支付回调
			authorized.POST("/orders/:id/paid", RateLimitMiddleware(redisClient, hookRule, KeyByIP, c.Metrics), adminHandler.MarkOrderPaid)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route not found")
	})

	return r
}

func healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	checks := gin.H{"database": "ok"}
	healthy := true
	if models.Ping(ctx) != nil {
		checks["database"] = "unavailable"
		healthy = false
	}
	if cache.Enabled() {
		checks["redis"] = "ok"
		if err := cache.Ping(ctx); err != nil {
			checks["redis"] = "unavailable"
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}
