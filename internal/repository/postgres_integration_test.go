//go:build integration
// +build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	cleanupModels := []interface{}{
		&models.LicenseKey{},
		&models.AutomationLedgerEntry{},
	}
	_ = db.Migrator().DropTable(cleanupModels...)

	if err := db.AutoMigrate(cleanupModels...); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(cleanupModels...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresSkipLockedSingleClaim(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewLicenseKeyRepository(db)

	for i := 0; i < 3; i++ {
		key := models.LicenseKey{
			Code:     fmt.Sprintf("pg-%d", i),
			CodeHash: fmt.Sprintf("pg-hash-%d", i),
			Status:   constants.LicenseKeyStatusUnused,
		}
		if err := db.Create(&key).Error; err != nil {
			t.Fatalf("create key failed: %v", err)
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[uint]uint)
	)
	for order := uint(1); order <= 5; order++ {
		wg.Add(1)
		go func(orderID uint) {
			defer wg.Done()
			_ = repo.Transaction(context.Background(), func(tx *gorm.DB) error {
				txRepo := repo.WithTx(tx)
				candidates, err := txRepo.FindSingleCandidates(context.Background(), 1, 1)
				if err != nil || len(candidates) == 0 {
					return err
				}
				ok, err := txRepo.ClaimSingle(context.Background(), candidates[0].ID, orderID, time.Now())
				if err != nil || !ok {
					return err
				}
				mu.Lock()
				claimed[candidates[0].ID] = orderID
				mu.Unlock()
				return nil
			})
		}(order)
	}
	wg.Wait()

	if len(claimed) > 3 {
		t.Fatalf("claimed more keys than exist: %d", len(claimed))
	}
	var used int64
	if err := db.Model(&models.LicenseKey{}).Where("status = ?", constants.LicenseKeyStatusUsed).Count(&used).Error; err != nil {
		t.Fatalf("count used failed: %v", err)
	}
	if int(used) != len(claimed) {
		t.Fatalf("used rows %d should match claims %d", used, len(claimed))
	}
}
