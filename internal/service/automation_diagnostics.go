package service

import (
	"context"
	"time"

	"github.com/keyrelay/internal/automation"

	"golang.org/x/sync/errgroup"
)

// DiagnosticsSource 远端诊断查询
type DiagnosticsSource interface {
	ResultSource
	GetStatus(ctx context.Context) (*automation.ServerStatus, error)
	GetDatabaseStats(ctx context.Context) (automation.DatabaseStats, error)
}

// DiagnosticsReport 诊断报告，各部分独立失败
type DiagnosticsReport struct {
	Status        *automation.ServerStatus `json:"status,omitempty"`
	Results       *automation.ResultPage   `json:"results,omitempty"`
	RecentQueue   []automation.QueueItem   `json:"recent_queue,omitempty"`
	DatabaseStats automation.DatabaseStats `json:"database_stats,omitempty"`
	KeyPool       *KeyPoolStats            `json:"key_pool,omitempty"`
	Errors        map[string]string        `json:"errors,omitempty"`
	CollectedAt   time.Time                `json:"collected_at"`
}

// AutomationDiagnostics 并发采集远端与本地状态
type AutomationDiagnostics struct {
	source  DiagnosticsSource
	keyPool *KeyPoolService
}

// NewAutomationDiagnostics 创建诊断服务
func NewAutomationDiagnostics(source DiagnosticsSource, keyPool *KeyPoolService) *AutomationDiagnostics {
	return &AutomationDiagnostics{source: source, keyPool: keyPool}
}

// Collect 采集诊断信息，单项失败记录在 Errors 中
func (d *AutomationDiagnostics) Collect(ctx context.Context, pageSize int) *DiagnosticsReport {
	report := &DiagnosticsReport{}
	var (
		statusErr  error
		resultsErr error
		recentErr  error
		dbErr      error
		poolErr    error
	)

	g, gctx := errgroup.WithContext(ctx)
	if d.source != nil {
		g.Go(func() error {
			report.Status, statusErr = d.source.GetStatus(gctx)
			return nil
		})
		g.Go(func() error {
			report.Results, resultsErr = d.source.GetResults(gctx, 1, pageSize)
			return nil
		})
		g.Go(func() error {
			report.RecentQueue, recentErr = d.source.GetRecentQueueItems(gctx)
			return nil
		})
		g.Go(func() error {
			report.DatabaseStats, dbErr = d.source.GetDatabaseStats(gctx)
			return nil
		})
	}
	if d.keyPool != nil {
		g.Go(func() error {
			report.KeyPool, poolErr = d.keyPool.Stats(gctx)
			return nil
		})
	}
	_ = g.Wait()

	errs := map[string]error{
		"status":         statusErr,
		"results":        resultsErr,
		"recent_queue":   recentErr,
		"database_stats": dbErr,
		"key_pool":       poolErr,
	}
	if d.source == nil {
		errs["status"] = ErrAutomationDisabled
	}
	for section, err := range errs {
		if err == nil {
			continue
		}
		if report.Errors == nil {
			report.Errors = map[string]string{}
		}
		report.Errors[section] = err.Error()
	}
	report.CollectedAt = time.Now()
	return report
}
