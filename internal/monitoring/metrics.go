package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailtrap"

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 邮件指标
	MessagesReceived prometheus.Counter
	MessagesDeleted  prometheus.Counter
	MessagesStored   prometheus.Gauge
	MessageSize      prometheus.Histogram
	IngestFailures   *prometheus.CounterVec
	RelaysTotal      *prometheus.CounterVec

	// SMTP 连接指标
	SMTPConnectionsActive prometheus.Gauge
	SMTPConnectionsTotal  prometheus.Counter
	SMTPRejectedTotal     *prometheus.CounterVec

	// 错误指标
	PanicsTotal prometheus.Counter

	// 业务指标
	AttachmentsPerMessage prometheus.Histogram
	EmailProcessingTime   prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics 使用独立注册表创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry 在指定注册表上创建监控指标，测试中使用独立注册表
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 邮件指标
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}),

		MessagesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deleted_total",
			Help:      "Total number of messages deleted",
		}),

		MessagesStored: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_stored",
			Help:      "Number of messages currently stored",
		}),

		MessageSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_size_bytes",
			Help:      "Size of received messages in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		IngestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_failures_total",
				Help:      "Total number of failed message ingestions by kind",
			},
			[]string{"kind"},
		),

		RelaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relays_total",
				Help:      "Total number of relay attempts by result",
			},
			[]string{"result"},
		),

		// SMTP 连接指标
		SMTPConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "smtp_connections_active",
			Help:      "Number of active SMTP sessions",
		}),

		SMTPConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "smtp_connections_total",
			Help:      "Total number of SMTP sessions",
		}),

		SMTPRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "smtp_rejected_total",
				Help:      "Total number of rejected SMTP sessions by reason",
			},
			[]string{"reason"},
		),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_total",
			Help:      "Total number of recovered panics",
		}),

		AttachmentsPerMessage: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attachments_per_message",
			Help:      "Number of attachments per received message",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		EmailProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "email_processing_seconds",
			Help:      "Time spent assembling a message",
			Buckets:   prometheus.DefBuckets,
		}),

		gatherer: reg,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordReceived 记录邮件接收
func (m *Metrics) RecordReceived(size int64, attachments int, elapsed time.Duration) {
	m.MessagesReceived.Inc()
	m.MessageSize.Observe(float64(size))
	m.AttachmentsPerMessage.Observe(float64(attachments))
	m.EmailProcessingTime.Observe(elapsed.Seconds())
}

// RecordIngestFailure 记录接收失败
func (m *Metrics) RecordIngestFailure(kind string) {
	m.IngestFailures.WithLabelValues(kind).Inc()
}

// RecordDeleted 记录邮件删除
func (m *Metrics) RecordDeleted(count int) {
	m.MessagesDeleted.Add(float64(count))
}

// RecordRelayed 记录转发结果
func (m *Metrics) RecordRelayed(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.RelaysTotal.WithLabelValues(result).Inc()
}

// SetStoredMessages 更新当前邮件数
func (m *Metrics) SetStoredMessages(count int) {
	m.MessagesStored.Set(float64(count))
}

// SessionOpened 记录 SMTP 会话开始
func (m *Metrics) SessionOpened() {
	m.SMTPConnectionsTotal.Inc()
	m.SMTPConnectionsActive.Inc()
}

// SessionClosed 记录 SMTP 会话结束
func (m *Metrics) SessionClosed() {
	m.SMTPConnectionsActive.Dec()
}

// SessionRejected 记录被拒绝的 SMTP 会话
func (m *Metrics) SessionRejected(reason string) {
	m.SMTPRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
