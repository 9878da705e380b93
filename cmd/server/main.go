package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/keyrelay/internal/app"
	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
	"github.com/keyrelay/internal/secret"
	"github.com/keyrelay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ansiReset     = "\033[0m"
	ansiBold      = "\033[1m"
	ansiDim       = "\033[2m"
	ansiGreen     = "\033[32m"
	ansiBlue      = "\033[34m"
	ansiCyan      = "\033[36m"
	ansiBrightMag = "\033[95m"
)

func main() {
	var mode string
	var genKey bool
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.BoolVar(&genKey, "gen-key", false, "生成卡密加密密钥后退出")
	flag.Parse()

	if genKey {
		key, err := secret.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "生成密钥失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hex.EncodeToString(key))
		return
	}

	mode, err := app.ParseMode(mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	printStartupBanner()

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer logger.Sync()

	if err := prepare(cfg); err != nil {
		logger.Z().Fatal("startup_failed", zap.Error(err))
	}
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		logger.Z().Fatal("app_exited", zap.Error(err))
	}
}

// prepare 校验密钥、连接数据库、迁移并初始化管理员
func prepare(cfg *config.Config) error {
	if isWeakSecret(cfg.JWT.SecretKey) {
		if cfg.Server.Mode == "release" {
			return errors.New("jwt secret is weak or still the default value")
		}
		logger.Warnw("jwt_secret_weak")
	}
	if strings.TrimSpace(cfg.Secret.EncryptionKey) == "" {
		return errors.New("secret.encryption_key is empty, generate one with -gen-key")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := models.InitDB(ctx, models.OptionsFromConfig(cfg.Database)); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := models.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	username := os.Getenv("KR_DEFAULT_ADMIN_USERNAME")
	password := os.Getenv("KR_DEFAULT_ADMIN_PASSWORD")
	if cfg.Server.Mode == "release" && password == "" {
		logger.Warnw("default_admin_skipped", "reason", "KR_DEFAULT_ADMIN_PASSWORD not set")
		return nil
	}
	auth := service.NewAuthService(cfg, repository.NewAdminRepository(models.DB))
	if err := auth.EnsureAdmin(ctx, username, password); err != nil {
		logger.Warnw("default_admin_init_failed", "error", err)
	}
	return nil
}

func printStartupBanner() {
	fmt.Println(ansiBrightMag + "╔══════════════════════════════════════════════════════╗" + ansiReset)
	fmt.Println(ansiBrightMag + "║              🔑 KeyRelay 自动化服务启动中              ║" + ansiReset)
	fmt.Println(ansiBrightMag + "╚══════════════════════════════════════════════════════╝" + ansiReset)
	fmt.Println(ansiCyan + "██╗  ██╗███████╗██╗   ██╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗" + ansiReset)
	fmt.Println(ansiCyan + "██║ ██╔╝██╔════╝╚██╗ ██╔╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝" + ansiReset)
	fmt.Println(ansiCyan + "█████╔╝ █████╗   ╚████╔╝ ██████╔╝█████╗  ██║     ███████║ ╚████╔╝ " + ansiReset)
	fmt.Println(ansiCyan + "██╔═██╗ ██╔══╝    ╚██╔╝  ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝  " + ansiReset)
	fmt.Println(ansiCyan + "██║  ██╗███████╗   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║   " + ansiReset)
	fmt.Println(ansiCyan + "╚═╝  ╚═╝╚══════╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝   " + ansiReset)
	fmt.Println(ansiGreen + ansiBold + "License key pool · remote automation · reconciliation" + ansiReset)
	fmt.Println(ansiBlue + "• Admin API: /api/v1/admin" + ansiReset)
	fmt.Println(ansiBlue + "• Metrics:   /metrics" + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}

func isWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}
	normalized := strings.ToLower(secret)
	if strings.Contains(normalized, "change-me") ||
		strings.Contains(normalized, "change-in-production") ||
		strings.Contains(normalized, "your-secret-key") {
		return true
	}
	return false
}
