package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
	"github.com/keyrelay/internal/secret"
	"github.com/keyrelay/internal/service"
)

const (
	demoSingleProductID uint = 1
	demoGroupProductID  uint = 2
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(context.Background(), models.OptionsFromConfig(cfg.Database)); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	cipher, err := secret.NewFromConfig(cfg.Secret.EncryptionKey, cfg.Secret.HashKey)
	if err != nil {
		stdLog.Fatalf("Failed to init cipher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db := models.DB
	settings := service.NewSettingService(repository.NewSettingRepository(db), cfg.Automation.PlayerIDMetaKey)
	keyPool := service.NewKeyPoolService(repository.NewLicenseKeyRepository(db), cipher)
	orders := repository.NewOrderRepository(db)

	// 自动化商品配置
	if _, err := settings.UpdateAutomationSetting(ctx, service.AutomationSetting{
		EnabledProductIDs: []uint{demoSingleProductID, demoGroupProductID},
		GroupProductIDs:   []uint{demoGroupProductID},
	}); err != nil {
		stdLog.Fatalf("Failed to save automation setting: %v", err)
	}

	// 单卡密
	singles := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		singles = append(singles, fmt.Sprintf("DEMO-SINGLE-%04d", i))
	}
	if _, err := keyPool.AddSingles(ctx, singles, []uint{demoSingleProductID}); err != nil && !errors.Is(err, service.ErrDuplicateKey) {
		stdLog.Fatalf("Failed to seed single keys: %v", err)
	}

	// 卡密组
	for g := 1; g <= 2; g++ {
		codes := make([]string, 0, 3)
		for i := 1; i <= 3; i++ {
			codes = append(codes, fmt.Sprintf("DEMO-G%d-%02d", g, i))
		}
		if _, err := keyPool.AddGroup(ctx, codes, []uint{demoGroupProductID}, len(codes), fmt.Sprintf("demo group %d", g)); err != nil && !errors.Is(err, service.ErrDuplicateKey) {
			stdLog.Fatalf("Failed to seed key group: %v", err)
		}
	}

	// 已支付的演示订单
	order := &models.Order{
		Status:   constants.OrderStatusPaid,
		MetaJSON: models.JSON{"_player_id": "DEMO-PLAYER-1"},
	}
	if err := orders.Create(ctx, order, []models.OrderItem{{ProductID: demoSingleProductID}}); err != nil {
		stdLog.Fatalf("Failed to seed order: %v", err)
	}

	stats, err := keyPool.Stats(ctx)
	if err != nil {
		stdLog.Fatalf("Failed to read key pool stats: %v", err)
	}
	fmt.Printf("Seed data created: order #%d, keys total=%d unused=%d\n", order.ID, stats.Total, stats.Unused)
}
