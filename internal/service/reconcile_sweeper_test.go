package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/keyrelay/internal/automation"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"
)

type fakeResultSource struct {
	mu         sync.Mutex
	page       *automation.ResultPage
	pages      map[int]*automation.ResultPage
	items      []automation.QueueItem
	resultsErr error
	recentErr  error
	status     *automation.ServerStatus
	statusErr  error
	dbStats    automation.DatabaseStats
	block      chan struct{}
}

func (s *fakeResultSource) GetResults(ctx context.Context, page, pageSize int) (*automation.ResultPage, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultsErr != nil {
		return nil, s.resultsErr
	}
	if s.pages != nil {
		if p, ok := s.pages[page]; ok {
			return p, nil
		}
		return &automation.ResultPage{Page: page, PageSize: pageSize}, nil
	}
	if s.page == nil {
		return &automation.ResultPage{Page: page, PageSize: pageSize}, nil
	}
	return s.page, nil
}

func (s *fakeResultSource) GetRecentQueueItems(_ context.Context) ([]automation.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items, s.recentErr
}

func (s *fakeResultSource) GetStatus(_ context.Context) (*automation.ServerStatus, error) {
	return s.status, s.statusErr
}

func (s *fakeResultSource) GetDatabaseStats(_ context.Context) (automation.DatabaseStats, error) {
	return s.dbStats, nil
}

func mustJobResults(t *testing.T, raw string) *automation.ResultPage {
	t.Helper()
	var page automation.ResultPage
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		t.Fatalf("decode results failed: %v", err)
	}
	return &page
}

func backdateLedger(t *testing.T, f *automationFixture, orderID uint, age time.Duration) {
	t.Helper()
	if err := f.db.Model(&models.AutomationLedgerEntry{}).
		Where("order_id = ?", orderID).
		Update("recorded_at", time.Now().Add(-age)).Error; err != nil {
		t.Fatalf("backdate ledger failed: %v", err)
	}
}

func TestReconcileSweeperAppliesRemoteTerminalStates(t *testing.T) {
	f := newAutomationFixture(t, "sweeper_apply")
	done := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	failed := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	pending := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	fresh := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	f.seedRunning(t, done.ID, "P1", "K1", "req-done", "101")
	f.seedRunning(t, failed.ID, "P2", "K2", "req-failed", "102")
	f.seedRunning(t, pending.ID, "P3", "K3", "req-pending", "103")
	f.seedRunning(t, fresh.ID, "P4", "K4", "req-fresh", "104")
	for _, id := range []uint{done.ID, failed.ID, pending.ID} {
		backdateLedger(t, f, id, time.Hour)
	}

	source := &fakeResultSource{
		page: mustJobResults(t, `{"results":[
			{"requestId":"req-done","queueId":101,"status":"completed"},
			{"requestId":"req-fresh","queueId":104,"status":"completed"},
			{"requestId":"req-other","status":"failed","error":"not ours"}
		],"page":1,"pageSize":50,"total":3}`),
		items: []automation.QueueItem{
			{RequestID: "req-failed", Status: "error", Error: "invalid player"},
			{RequestID: "req-pending", Status: "processing"},
		},
	}
	sweeper := NewReconcileSweeper(f.ledger, source, f.reconciler, ReconcileSweeperOptions{Grace: time.Minute})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Running != 3 || report.Matched != 2 || report.Reconciled != 2 || report.Pending != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	if status, _ := f.orderState(t, done.ID); status != constants.OrderStatusCompleted {
		t.Fatalf("expected completed order, got %s", status)
	}
	if status, notes := f.orderState(t, failed.ID); status != constants.OrderStatusFailed || notes[0] != constants.OrderMessageFailed+": invalid player" {
		t.Fatalf("unexpected failed order state: %s %v", status, notes)
	}
	if f.ledgerStatus(t, pending.ID) != constants.LedgerStatusRunning || f.ledgerStatus(t, fresh.ID) != constants.LedgerStatusRunning {
		t.Fatalf("pending and in-grace entries must stay running")
	}
	if f.mailer.count() != 1 {
		t.Fatalf("expected one failure alert, got %d", f.mailer.count())
	}

	report, err = sweeper.Sweep(context.Background())
	if err != nil || report.Reconciled != 0 {
		t.Fatalf("second sweep must not re-apply, report=%+v err=%v", report, err)
	}
}

func TestReconcileSweeperSeesEntriesBeyondOnePage(t *testing.T) {
	f := newAutomationFixture(t, "sweeper_backlog")
	for i := 0; i < 5; i++ {
		stuck := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
		f.seedRunning(t, stuck.ID, "P", "K", fmt.Sprintf("req-stuck-%d", i), "")
		backdateLedger(t, f, stuck.ID, 2*time.Hour)
	}
	target := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	f.seedRunning(t, target.ID, "P", "K", "req-target", "")
	backdateLedger(t, f, target.ID, time.Hour)

	source := &fakeResultSource{pages: map[int]*automation.ResultPage{
		1: mustJobResults(t, `{"results":[{"requestId":"req-x1","status":"completed"},{"requestId":"req-x2","status":"completed"}],"page":1,"pageSize":2,"total":4}`),
		2: mustJobResults(t, `{"results":[{"requestId":"req-target","status":"completed"},{"requestId":"req-x3","status":"failed"}],"page":2,"pageSize":2,"total":4}`),
	}}
	sweeper := NewReconcileSweeper(f.ledger, source, f.reconciler, ReconcileSweeperOptions{Grace: time.Minute, PageSize: 2})

	for round := 0; round < 2; round++ {
		report, err := sweeper.Sweep(context.Background())
		if err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		if round == 0 && (report.Running != 6 || report.Matched != 1 || report.Reconciled != 1 || report.ResultPages != 2) {
			t.Fatalf("unexpected report: %+v", report)
		}
	}
	if got := f.ledgerStatus(t, target.ID); got != constants.LedgerStatusCompleted {
		t.Fatalf("target behind a backlog of stuck entries must reconcile, got %s", got)
	}
	if status, _ := f.orderState(t, target.ID); status != constants.OrderStatusCompleted {
		t.Fatalf("expected completed order, got %s", status)
	}
}

func TestReconcileSweeperExpiresEntriesWithoutResult(t *testing.T) {
	f := newAutomationFixture(t, "sweeper_expire")
	stale := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	recent := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	f.seedRunning(t, stale.ID, "P1", "K1", "req-stale", "")
	f.seedRunning(t, recent.ID, "P2", "K2", "req-recent", "")
	backdateLedger(t, f, stale.ID, 48*time.Hour)
	backdateLedger(t, f, recent.ID, time.Hour)

	source := &fakeResultSource{}
	sweeper := NewReconcileSweeper(f.ledger, source, f.reconciler, ReconcileSweeperOptions{Grace: time.Minute, MaxAge: 24 * time.Hour})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Expired != 1 || report.Pending != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := f.ledgerStatus(t, stale.ID); got != constants.LedgerStatusFailed {
		t.Fatalf("stale entry must be failed, got %s", got)
	}
	if status, notes := f.orderState(t, stale.ID); status != constants.OrderStatusFailed || notes[0] != constants.OrderMessageFailed+": "+constants.ExpiredJobMessage {
		t.Fatalf("unexpected stale order state: %s %v", status, notes)
	}
	if got := f.ledgerStatus(t, recent.ID); got != constants.LedgerStatusRunning {
		t.Fatalf("recent entry must stay running, got %s", got)
	}
	if f.mailer.count() != 1 {
		t.Fatalf("expected one alert for the expired entry, got %d", f.mailer.count())
	}

	source.resultsErr = automation.ErrRemoteUnavailable
	other := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	f.seedRunning(t, other.ID, "P3", "K3", "req-other", "")
	backdateLedger(t, f, other.ID, 48*time.Hour)
	report, err = sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep with recent queue only failed: %v", err)
	}
	if report.Expired != 0 || f.ledgerStatus(t, other.ID) != constants.LedgerStatusRunning {
		t.Fatalf("entries must not expire while results are unavailable: %+v", report)
	}
}

func TestReconcileSweeperToleratesOneSourceFailing(t *testing.T) {
	f := newAutomationFixture(t, "sweeper_partial")
	order := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	f.seedRunning(t, order.ID, "P", "K", "req-1", "")
	backdateLedger(t, f, order.ID, time.Hour)

	source := &fakeResultSource{
		resultsErr: automation.ErrRemoteUnavailable,
		items:      []automation.QueueItem{{RequestID: "req-1", Status: "cancelled"}},
	}
	sweeper := NewReconcileSweeper(f.ledger, source, f.reconciler, ReconcileSweeperOptions{Grace: time.Minute})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Reconciled != 1 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	_, notes := f.orderState(t, order.ID)
	if notes[0] != constants.OrderMessageFailed+": "+constants.CancelledJobMessage {
		t.Fatalf("unexpected note: %v", notes)
	}

	source.recentErr = automation.ErrRemoteUnavailable
	other := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	f.seedRunning(t, other.ID, "P", "K", "req-2", "")
	backdateLedger(t, f, other.ID, time.Hour)
	if _, err := sweeper.Sweep(context.Background()); !errors.Is(err, automation.ErrRemoteUnavailable) {
		t.Fatalf("expected remote unavailable when both sources fail, got %v", err)
	}
}

func TestReconcileSweeperRejectsOverlappingRuns(t *testing.T) {
	f := newAutomationFixture(t, "sweeper_overlap")
	order := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1})
	f.seedRunning(t, order.ID, "P", "K", "req-1", "")
	backdateLedger(t, f, order.ID, time.Hour)

	source := &fakeResultSource{block: make(chan struct{})}
	sweeper := NewReconcileSweeper(f.ledger, source, f.reconciler, ReconcileSweeperOptions{Grace: time.Minute})

	errCh := make(chan error, 1)
	go func() {
		_, err := sweeper.Sweep(context.Background())
		errCh <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !sweeper.running.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := sweeper.Sweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected sweep in progress, got %v", err)
	}
	close(source.block)
	if err := <-errCh; err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
}

func TestTerminalOutcome(t *testing.T) {
	cases := []struct {
		status  string
		outcome string
		ok      bool
	}{
		{"completed", constants.OutcomeSuccess, true},
		{"Success", constants.OutcomeSuccess, true},
		{"failed", constants.OutcomeFailure, true},
		{"canceled", constants.OutcomeFailure, true},
		{"processing", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		outcome, _, ok := terminalOutcome(tc.status, "")
		if outcome != tc.outcome || ok != tc.ok {
			t.Fatalf("status %q: expected %q/%v, got %q/%v", tc.status, tc.outcome, tc.ok, outcome, ok)
		}
	}
}
