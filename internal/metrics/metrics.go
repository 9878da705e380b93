package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 自动化流水线指标
type Registry struct {
	KeyAllocationsTotal  *prometheus.CounterVec
	KeyImportsTotal      *prometheus.CounterVec
	JobEventsTotal       *prometheus.CounterVec
	JobEventsDropped     *prometheus.CounterVec
	ReconciliationsTotal *prometheus.CounterVec
	RemoteCallsTotal     *prometheus.CounterVec
	RemoteCallDuration   *prometheus.HistogramVec
	SubmissionsTotal     *prometheus.CounterVec
	AlertsTotal          *prometheus.CounterVec
	RealtimeConnected    prometheus.Gauge
	RealtimeReconnects   prometheus.Counter
	SweepRunsTotal       *prometheus.CounterVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	RateLimitedTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// Default 全局指标实例
func Default() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry 创建独立的指标注册表
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	r := &Registry{registry: reg}

	r.KeyAllocationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_key_allocations_total",
		Help: "License key allocations by kind and result",
	}, []string{"kind", "result"})
	r.KeyImportsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_key_imports_total",
		Help: "License keys imported by kind",
	}, []string{"kind"})
	r.JobEventsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_job_events_total",
		Help: "Automation job events received by type",
	}, []string{"type"})
	r.JobEventsDropped = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_job_events_dropped_total",
		Help: "Automation job events dropped by reason",
	}, []string{"reason"})
	r.ReconciliationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_reconciliations_total",
		Help: "Reconciliations by outcome and whether they were applied",
	}, []string{"outcome", "applied"})
	r.RemoteCallsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_remote_calls_total",
		Help: "Automation server calls by endpoint and result",
	}, []string{"endpoint", "result"})
	r.RemoteCallDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keyrelay_remote_call_duration_seconds",
		Help:    "Automation server call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	r.SubmissionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_submissions_total",
		Help: "Order submissions by result",
	}, []string{"result"})
	r.AlertsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_alerts_total",
		Help: "Admin alerts by kind and delivery result",
	}, []string{"kind", "result"})
	r.RealtimeConnected = factory.NewGauge(prometheus.GaugeOpts{
		Name: "keyrelay_realtime_connected",
		Help: "Whether the job event stream is connected",
	})
	r.RealtimeReconnects = factory.NewCounter(prometheus.CounterOpts{
		Name: "keyrelay_realtime_reconnects_total",
		Help: "Job event stream reconnect attempts",
	})
	r.SweepRunsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_sweep_runs_total",
		Help: "Reconciliation sweep runs by result",
	}, []string{"result"})
	r.HTTPRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	r.HTTPRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keyrelay_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
	r.RateLimitedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrelay_rate_limited_total",
		Help: "Requests rejected by rate limit rules",
	}, []string{"rule"})

	return r
}

// Handler 暴露 /metrics
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer 底层注册表
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordAllocation 记录卡密分配
func (r *Registry) RecordAllocation(kind, result string) {
	if r == nil {
		return
	}
	r.KeyAllocationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordImport 记录卡密导入
func (r *Registry) RecordImport(kind string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.KeyImportsTotal.WithLabelValues(kind).Add(float64(count))
}

// RecordJobEvent 记录任务事件
func (r *Registry) RecordJobEvent(eventType string) {
	if r == nil {
		return
	}
	r.JobEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordDroppedEvent 记录被丢弃的事件
func (r *Registry) RecordDroppedEvent(reason string) {
	if r == nil {
		return
	}
	r.JobEventsDropped.WithLabelValues(reason).Inc()
}

// RecordReconciliation 记录对账结果
func (r *Registry) RecordReconciliation(outcome string, applied bool) {
	if r == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	r.ReconciliationsTotal.WithLabelValues(outcome, label).Inc()
}

// RecordRemoteCall 记录远端调用，签名与 automation.CallObserver 一致
func (r *Registry) RecordRemoteCall(endpoint, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.RemoteCallsTotal.WithLabelValues(endpoint, result).Inc()
	r.RemoteCallDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordSubmission 记录订单提交结果
func (r *Registry) RecordSubmission(result string) {
	if r == nil {
		return
	}
	r.SubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordAlert 记录告警发送
func (r *Registry) RecordAlert(kind, result string) {
	if r == nil {
		return
	}
	r.AlertsTotal.WithLabelValues(kind, result).Inc()
}

// SetRealtimeConnected 设置实时通道连接状态
func (r *Registry) SetRealtimeConnected(connected bool) {
	if r == nil {
		return
	}
	if connected {
		r.RealtimeConnected.Set(1)
		return
	}
	r.RealtimeConnected.Set(0)
}

// RecordReconnect 记录重连
func (r *Registry) RecordReconnect() {
	if r == nil {
		return
	}
	r.RealtimeReconnects.Inc()
}

// RecordSweep 记录巡检
func (r *Registry) RecordSweep(result string) {
	if r == nil {
		return
	}
	r.SweepRunsTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest 记录 HTTP 请求
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimited 记录被限流的请求
func (r *Registry) RecordRateLimited(rule string) {
	if r == nil {
		return
	}
	r.RateLimitedTotal.WithLabelValues(rule).Inc()
}
