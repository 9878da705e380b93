package service

import (
	"context"
	"testing"

	"github.com/keyrelay/internal/automation"
)

func TestAutomationDiagnosticsCollectsSectionsIndependently(t *testing.T) {
	f := newAutomationFixture(t, "diagnostics_collect")
	ctx := context.Background()
	if _, err := f.keyPool.AddSingles(ctx, []string{"D-1", "D-2"}, nil); err != nil {
		t.Fatalf("add singles failed: %v", err)
	}

	source := &fakeResultSource{
		status:    nil,
		statusErr: automation.ErrRemoteUnavailable,
		page:      &automation.ResultPage{Results: []automation.JobResult{{RequestID: "r1", Status: "completed"}}, Page: 1, PageSize: 10, Total: 1},
		items:     []automation.QueueItem{{ID: "5", Status: "processing"}},
		dbStats:   automation.DatabaseStats{"jobs": float64(12)},
	}
	report := NewAutomationDiagnostics(source, f.keyPool).Collect(ctx, 10)

	if report.Status != nil || report.Errors["status"] == "" {
		t.Fatalf("expected status error to be captured, report=%+v", report)
	}
	if report.Results == nil || len(report.Results.Results) != 1 {
		t.Fatalf("expected results section, got %+v", report.Results)
	}
	if len(report.RecentQueue) != 1 || report.DatabaseStats["jobs"] != float64(12) {
		t.Fatalf("unexpected queue/db sections: %+v %+v", report.RecentQueue, report.DatabaseStats)
	}
	if report.KeyPool == nil || report.KeyPool.Unused != 2 {
		t.Fatalf("expected key pool stats, got %+v", report.KeyPool)
	}
	if len(report.Errors) != 1 || report.CollectedAt.IsZero() {
		t.Fatalf("expected exactly one failed section, got %v", report.Errors)
	}
}

func TestAutomationDiagnosticsWithoutRemote(t *testing.T) {
	f := newAutomationFixture(t, "diagnostics_local_only")
	report := NewAutomationDiagnostics(nil, f.keyPool).Collect(context.Background(), 10)
	if report.KeyPool == nil || report.Errors["status"] != ErrAutomationDisabled.Error() {
		t.Fatalf("expected local stats and disabled remote, got %+v", report)
	}
}
