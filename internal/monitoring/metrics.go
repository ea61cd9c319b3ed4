package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec

	// 转寄指标
	ForwardingRequests    *prometheus.CounterVec
	ForwardingTransitions *prometheus.CounterVec
	ChargesCreated        *prometheus.CounterVec

	// 入库指标
	WebhookEvents     *prometheus.CounterVec
	IngestDuration    prometheus.Histogram
	FilenameFallbacks *prometheus.CounterVec
	HookFailures      *prometheus.CounterVec

	// 地址槽指标
	SlotClaims *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 在指定注册表上创建监控指标，测试中每个用例使用独立注册表
func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroom_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		ForwardingRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_forwarding_requests_total",
				Help: "Forwarding request attempts by result",
			},
			[]string{"result"},
		),

		ForwardingTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_forwarding_transitions_total",
				Help: "Forwarding status transitions by target status and result",
			},
			[]string{"to", "result"},
		),

		ChargesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_charges_created_total",
				Help: "Forwarding fee charges written",
			},
			[]string{"currency"},
		),

		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_webhook_events_total",
				Help: "Inbound mail webhook deliveries by action and outcome",
			},
			[]string{"action", "outcome"},
		),

		IngestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailroom_ingest_duration_seconds",
				Help:    "Time spent handling a mail webhook delivery",
				Buckets: prometheus.DefBuckets,
			},
		),

		FilenameFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_ingest_fallbacks_total",
				Help: "Metadata resolved from a fallback source",
			},
			[]string{"field", "source"},
		),

		HookFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_hook_failures_total",
				Help: "Post-commit hook failures by hook",
			},
			[]string{"hook"},
		),

		SlotClaims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_slot_claims_total",
				Help: "Address slot claims by result",
			},
			[]string{"result"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_panics_total",
				Help: "Total number of panics",
			},
		),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
}

// RecordForwarding 记录转寄请求结果: created, existing 或错误码
func (m *Metrics) RecordForwarding(result string) {
	m.ForwardingRequests.WithLabelValues(result).Inc()
}

// RecordTransition 记录状态迁移
func (m *Metrics) RecordTransition(to, result string) {
	m.ForwardingTransitions.WithLabelValues(to, result).Inc()
}

// RecordCharge 记录费用写入
func (m *Metrics) RecordCharge(currency string) {
	m.ChargesCreated.WithLabelValues(currency).Inc()
}

// RecordWebhook 记录 Webhook 处理结果
func (m *Metrics) RecordWebhook(action, outcome string) {
	m.WebhookEvents.WithLabelValues(action, outcome).Inc()
}

// ObserveIngest 记录一次入库耗时
func (m *Metrics) ObserveIngest(duration time.Duration) {
	m.IngestDuration.Observe(duration.Seconds())
}

// RecordFallback 记录元数据来自回退来源
func (m *Metrics) RecordFallback(field, source string) {
	m.FilenameFallbacks.WithLabelValues(field, source).Inc()
}

// RecordHookFailure 记录后置钩子失败
func (m *Metrics) RecordHookFailure(hook string) {
	m.HookFailures.WithLabelValues(hook).Inc()
}

// RecordSlotClaim 记录地址槽领取结果
func (m *Metrics) RecordSlotClaim(result string) {
	m.SlotClaims.WithLabelValues(result).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
