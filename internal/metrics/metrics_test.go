package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write metric failed: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestRecordAllocationAndReconciliation(t *testing.T) {
	r := NewRegistry()
	r.RecordAllocation("single", "ok")
	r.RecordAllocation("single", "ok")
	r.RecordAllocation("group", "empty")
	r.RecordReconciliation("success", true)
	r.RecordReconciliation("success", false)

	if got := counterValue(t, r.KeyAllocationsTotal.WithLabelValues("single", "ok")); got != 2 {
		t.Fatalf("single ok = %v, want 2", got)
	}
	if got := counterValue(t, r.KeyAllocationsTotal.WithLabelValues("group", "empty")); got != 1 {
		t.Fatalf("group empty = %v, want 1", got)
	}
	if got := counterValue(t, r.ReconciliationsTotal.WithLabelValues("success", "false")); got != 1 {
		t.Fatalf("duplicate reconciliation = %v, want 1", got)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.RecordAllocation("single", "ok")
	r.RecordRemoteCall("/api/status", "ok", time.Millisecond)
	r.SetRealtimeConnected(true)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRegistry()
	r.RecordJobEvent("completed")
	r.RecordRemoteCall("/api/submit-job", "ok", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`keyrelay_job_events_total{type="completed"} 1`,
		`keyrelay_remote_calls_total{endpoint="/api/submit-job",result="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
