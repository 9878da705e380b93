package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/keyrelay/internal/automation"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/logger"
	"github.com/keyrelay/internal/metrics"
)

// ResultSource 远端结果查询
type ResultSource interface {
	GetResults(ctx context.Context, page, pageSize int) (*automation.ResultPage, error)
	GetRecentQueueItems(ctx context.Context) ([]automation.QueueItem, error)
}

// SweepReport 巡检结果
type SweepReport struct {
	Running     int      `json:"running"`
	Matched     int      `json:"matched"`
	Reconciled  int      `json:"reconciled"`
	Expired     int      `json:"expired"`
	Pending     int      `json:"pending"`
	ResultPages int      `json:"result_pages"`
	Errors      []string `json:"errors,omitempty"`
}

// ReconcileSweeperOptions 巡检选项
type ReconcileSweeperOptions struct {
	Grace          time.Duration
	MaxAge         time.Duration
	PageSize       int
	MaxResultPages int
	Metrics        *metrics.Registry
}

// ReconcileSweeper 定期对比远端结果与运行中台账，补偿断线期间丢失的事件
type ReconcileSweeper struct {
	ledger     *AutomationLedgerService
	source     ResultSource
	reconciler *ReconciliationService
	opts       ReconcileSweeperOptions
	running    atomic.Bool
	now        func() time.Time
}

// NewReconcileSweeper 创建巡检器，MaxAge 为 0 时不做超时失败处理
func NewReconcileSweeper(ledger *AutomationLedgerService, source ResultSource, reconciler *ReconciliationService, opts ReconcileSweeperOptions) *ReconcileSweeper {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxResultPages <= 0 {
		opts.MaxResultPages = 10
	}
	if opts.Grace < 0 {
		opts.Grace = 0
	}
	if opts.MaxAge < 0 {
		opts.MaxAge = 0
	}
	return &ReconcileSweeper{ledger: ledger, source: source, reconciler: reconciler, opts: opts, now: time.Now}
}

type remoteOutcome struct {
	job     JobPayload
	outcome string
	message string
}

type runningIndex struct {
	entries []LedgerEntry
	orders  map[uint]bool
	byRef   map[string]uint
	oldest  time.Time
}

// Sweep 执行一次巡检
func (s *ReconcileSweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	report := &SweepReport{}
	idx, err := s.loadRunning(ctx)
	if err != nil {
		s.opts.Metrics.RecordSweep("error")
		return nil, err
	}
	report.Running = len(idx.entries)
	if report.Running == 0 {
		s.opts.Metrics.RecordSweep("idle")
		return report, nil
	}

	outcomes := make(map[uint]remoteOutcome)
	resultsErr := s.collectResults(ctx, idx, outcomes, report)
	if resultsErr != nil {
		report.Errors = append(report.Errors, "results: "+resultsErr.Error())
		logger.Warnw("reconcile_sweep_results_failed", "error", resultsErr)
	}
	recentErr := s.collectRecentQueue(ctx, idx, outcomes)
	if recentErr != nil {
		report.Errors = append(report.Errors, "recent queue: "+recentErr.Error())
		logger.Warnw("reconcile_sweep_recent_queue_failed", "error", recentErr)
	}
	if resultsErr != nil && recentErr != nil {
		s.opts.Metrics.RecordSweep("error")
		return report, errors.Join(automation.ErrRemoteUnavailable, errors.New(strings.Join(report.Errors, "; ")))
	}

	report.Matched = len(outcomes)
	for orderID, outcome := range outcomes {
		applied, err := s.reconciler.ReconcileOrder(ctx, orderID, outcome.job, outcome.outcome, outcome.message)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		if applied {
			report.Reconciled++
		}
	}

	// 结果列表不可用时无法确认任务确实丢失，跳过超时处理
	if resultsErr == nil {
		s.expireStale(ctx, idx, outcomes, report)
	}
	report.Pending = report.Running - report.Matched - report.Expired
	s.opts.Metrics.RecordSweep("ok")
	logger.Infow("reconcile_sweep_finished",
		"running", report.Running,
		"matched", report.Matched,
		"reconciled", report.Reconciled,
		"expired", report.Expired,
		"pending", report.Pending,
		"result_pages", report.ResultPages,
	)
	return report, nil
}

// loadRunning 按游标分批读取全部超过宽限期的运行中台账
func (s *ReconcileSweeper) loadRunning(ctx context.Context) (*runningIndex, error) {
	idx := &runningIndex{orders: make(map[uint]bool), byRef: make(map[string]uint)}
	var afterID uint
	for {
		batch, err := s.ledger.ListRunning(ctx, s.opts.Grace, afterID, s.opts.PageSize)
		if err != nil {
			return nil, err
		}
		for _, entry := range batch {
			idx.entries = append(idx.entries, entry)
			idx.orders[entry.OrderID] = true
			if entry.RequestID != "" {
				idx.byRef[entry.RequestID] = entry.OrderID
			}
			if entry.QueueID != "" {
				idx.byRef[entry.QueueID] = entry.OrderID
			}
			if idx.oldest.IsZero() || entry.RecordedAt.Before(idx.oldest) {
				idx.oldest = entry.RecordedAt
			}
			afterID = entry.ID
		}
		if len(batch) < s.opts.PageSize {
			return idx, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// collectResults 翻页读取远端结果，直到覆盖最早的运行中台账或全部匹配
func (s *ReconcileSweeper) collectResults(ctx context.Context, idx *runningIndex, outcomes map[uint]remoteOutcome, report *SweepReport) error {
	seen := 0
	for pageNo := 1; pageNo <= s.opts.MaxResultPages; pageNo++ {
		page, err := s.source.GetResults(ctx, pageNo, s.opts.PageSize)
		if err != nil {
			if pageNo > 1 {
				logger.Warnw("reconcile_sweep_results_page_failed", "page", pageNo, "error", err)
				return nil
			}
			return err
		}
		report.ResultPages = pageNo
		coveredOldest := false
		for _, result := range page.Results {
			if result.CompletedAt != nil && result.CompletedAt.Before(idx.oldest) {
				coveredOldest = true
			}
			orderID := matchOrder(idx.orders, idx.byRef, result.OrderID, result.Queue, result.RequestID, result.QueueID)
			if orderID == 0 {
				continue
			}
			if _, done := outcomes[orderID]; done {
				continue
			}
			job := JobPayload{
				RequestID: result.RequestID,
				OrderID:   result.OrderID,
				Queue:     result.Queue,
				QueueID:   result.QueueID,
				PlayerID:  result.PlayerID,
				Error:     result.Error,
			}
			if outcome, message, ok := terminalOutcome(result.Status, result.Error); ok {
				outcomes[orderID] = remoteOutcome{job: job, outcome: outcome, message: message}
			}
		}
		seen += len(page.Results)
		switch {
		case len(page.Results) == 0,
			len(page.Results) < s.opts.PageSize,
			page.Total > 0 && seen >= page.Total,
			len(outcomes) == len(idx.entries),
			coveredOldest:
			return nil
		}
	}
	return nil
}

func (s *ReconcileSweeper) collectRecentQueue(ctx context.Context, idx *runningIndex, outcomes map[uint]remoteOutcome) error {
	items, err := s.source.GetRecentQueueItems(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		orderID := matchOrder(idx.orders, idx.byRef, item.OrderID, nil, item.RequestID, item.ID)
		if orderID == 0 {
			continue
		}
		if _, seen := outcomes[orderID]; seen {
			continue
		}
		job := JobPayload{
			RequestID: item.RequestID,
			OrderID:   item.OrderID,
			QueueID:   item.ID,
			PlayerID:  item.PlayerID,
			Error:     item.Error,
		}
		if outcome, message, ok := terminalOutcome(item.Status, item.Error); ok {
			outcomes[orderID] = remoteOutcome{job: job, outcome: outcome, message: message}
		}
	}
	return nil
}

// expireStale 超过最长存活时间仍无结果的台账按失败回写并告警
func (s *ReconcileSweeper) expireStale(ctx context.Context, idx *runningIndex, outcomes map[uint]remoteOutcome, report *SweepReport) {
	if s.opts.MaxAge <= 0 {
		return
	}
	deadline := s.now().Add(-s.opts.MaxAge)
	for _, entry := range idx.entries {
		if _, matched := outcomes[entry.OrderID]; matched || !entry.RecordedAt.Before(deadline) {
			continue
		}
		job := JobPayload{
			RequestID: entry.RequestID,
			QueueID:   automation.FlexibleID(entry.QueueID),
			PlayerID:  entry.PlayerID,
		}
		applied, err := s.reconciler.ReconcileOrder(ctx, entry.OrderID, job, constants.OutcomeFailure, constants.ExpiredJobMessage)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		if applied {
			report.Expired++
			logger.Warnw("reconcile_sweep_expired",
				"order_id", entry.OrderID,
				"request_id", entry.RequestID,
				"recorded_at", entry.RecordedAt,
			)
		}
	}
}

func matchOrder(running map[uint]bool, byRef map[string]uint, orderID automation.FlexibleID, queue *automation.QueueRef, requestID string, queueID automation.FlexibleID) uint {
	candidates := []uint{orderID.Uint()}
	if queue != nil {
		candidates = append(candidates, queue.OrderID.Uint())
	}
	for _, id := range candidates {
		if id != 0 && running[id] {
			return id
		}
	}
	for _, ref := range []string{strings.TrimSpace(requestID), strings.TrimSpace(queueID.String())} {
		if ref == "" {
			continue
		}
		if id, ok := byRef[ref]; ok {
			return id
		}
	}
	return 0
}

func terminalOutcome(status, remoteErr string) (string, string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case constants.JobEventCompleted, "success", "succeeded", "done":
		return constants.OutcomeSuccess, "", true
	case constants.JobEventFailed, "error":
		return constants.OutcomeFailure, strings.TrimSpace(remoteErr), true
	case constants.JobEventCancelled, "canceled":
		return constants.OutcomeFailure, constants.CancelledJobMessage, true
	default:
		return "", "", false
	}
}
