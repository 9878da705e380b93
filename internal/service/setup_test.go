package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
	"github.com/keyrelay/internal/secret"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupServiceTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	// 内存库共享连接，串行化写入
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func newTestCipher(t *testing.T) *secret.Box {
	t.Helper()
	box, err := secret.New(bytes.Repeat([]byte{0x5a}, secret.KeySize), nil)
	if err != nil {
		t.Fatalf("create cipher failed: %v", err)
	}
	return box
}

type recordedMail struct {
	recipients []string
	subject    string
	body       string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []recordedMail
	err  error
}

func (m *recordingMailer) SendTextEmail(_ context.Context, recipients []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, recordedMail{recipients: recipients, subject: subject, body: body})
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last() recordedMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return recordedMail{}
	}
	return m.sent[len(m.sent)-1]
}

type automationFixture struct {
	db         *gorm.DB
	settings   *SettingService
	orders     *repository.GormOrderRepository
	keyPool    *KeyPoolService
	ledger     *AutomationLedgerService
	mailer     *recordingMailer
	alerts     *AlertService
	resolver   *JobOrderResolver
	reconciler *ReconciliationService
}

func newAutomationFixture(t *testing.T, name string) *automationFixture {
	t.Helper()
	db := setupServiceTestDB(t, name)
	cipher := newTestCipher(t)

	f := &automationFixture{
		db:       db,
		settings: NewSettingService(repository.NewSettingRepository(db), ""),
		orders:   repository.NewOrderRepository(db),
		keyPool:  NewKeyPoolService(repository.NewLicenseKeyRepository(db), cipher),
		ledger:   NewAutomationLedgerService(repository.NewAutomationLedgerRepository(db), cipher),
		mailer:   &recordingMailer{},
	}
	f.alerts = NewAlertService(config.AlertConfig{
		Recipients: []string{"ops@example.com"},
		SourceSite: "shop.example.com",
	}, f.mailer, nil, nil)
	f.resolver = NewJobOrderResolver(f.ledger)
	f.reconciler = NewReconciliationService(f.ledger, f.orders, f.alerts, f.resolver, ReconciliationOptions{RetryAttempts: 2})
	return f
}

func (f *automationFixture) enableAutomation(t *testing.T, enabled, groups []uint) {
	t.Helper()
	_, err := f.settings.UpdateAutomationSetting(context.Background(), AutomationSetting{
		EnabledProductIDs: enabled,
		GroupProductIDs:   groups,
	})
	if err != nil {
		t.Fatalf("update automation setting failed: %v", err)
	}
}

func (f *automationFixture) seedOrder(t *testing.T, userID uint, meta models.JSON, items ...models.OrderItem) *models.Order {
	t.Helper()
	order := &models.Order{UserID: userID, Status: constants.OrderStatusPaid, MetaJSON: meta}
	if err := f.orders.Create(context.Background(), order, items); err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func (f *automationFixture) seedRunning(t *testing.T, orderID uint, playerID, code, requestID, queueID string) {
	t.Helper()
	ctx := context.Background()
	if err := f.ledger.RecordAttempt(ctx, orderID, playerID, code); err != nil {
		t.Fatalf("record attempt failed: %v", err)
	}
	if requestID != "" || queueID != "" {
		if err := f.ledger.AttachRequest(ctx, orderID, requestID, queueID); err != nil {
			t.Fatalf("attach request failed: %v", err)
		}
	}
}

func (f *automationFixture) orderState(t *testing.T, orderID uint) (string, []string) {
	t.Helper()
	order, err := f.orders.GetByID(context.Background(), orderID)
	if err != nil || order == nil {
		t.Fatalf("get order failed: order=%v err=%v", order, err)
	}
	notes, err := f.orders.ListNotes(context.Background(), orderID)
	if err != nil {
		t.Fatalf("list notes failed: %v", err)
	}
	messages := make([]string, 0, len(notes))
	for _, note := range notes {
		messages = append(messages, note.Message)
	}
	return order.Status, messages
}

func (f *automationFixture) ledgerStatus(t *testing.T, orderID uint) string {
	t.Helper()
	entry, err := f.ledger.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get ledger failed: %v", err)
	}
	return entry.Status
}
