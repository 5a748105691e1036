// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// レコードストアクライアント、監査ログ、通知、認証の各層から利用する。
type MetricsCollector interface {
	RecordStoreCall(table, op string, statusCode int, duration time.Duration)
	RecordAuditEvent(status string)
	RecordAuditFailure()
	RecordNotification(outcome string)
	RecordWebhook(purpose, outcome string)
	RecordAuthAttempt(kind, outcome string)
	RecordHTTPStatus(statusCode int)
}

// 通知・Webhook・認証の結果ラベル
const (
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	storeCalls    *prometheus.CounterVec
	storeLatency  *prometheus.HistogramVec
	auditEvents   *prometheus.CounterVec
	auditFailures prometheus.Counter
	notifications *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	authAttempts  *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireboard_store_calls_total",
			Help: "レコードストアAPI呼び出し数（テーブル・操作・ステータス別）",
		}, []string{"table", "op", "status_code"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hireboard_store_latency_seconds",
			Help:    "レコードストアAPIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireboard_audit_events_total",
			Help: "記録された監査イベント数（結果区分別）",
		}, []string{"status"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hireboard_audit_write_failures_total",
			Help: "監査イベントの書き込み失敗数",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireboard_notifications_total",
			Help: "通知ディスパッチの結果別件数",
		}, []string{"outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireboard_webhook_deliveries_total",
			Help: "外部Webhook送信の用途・結果別件数",
		}, []string{"purpose", "outcome"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireboard_auth_attempts_total",
			Help: "ログイン・招待承諾の試行数",
		}, []string{"kind", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireboard_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.storeCalls,
		c.storeLatency,
		c.auditEvents,
		c.auditFailures,
		c.notifications,
		c.webhooks,
		c.authAttempts,
		c.httpStatus,
	)

	return c
}

// RecordStoreCall はレコードストアAPI呼び出しを記録する。
// 通信エラーはstatusCode=0として記録する。
func (c *Collector) RecordStoreCall(table, op string, statusCode int, duration time.Duration) {
	c.storeCalls.WithLabelValues(table, op, strconv.Itoa(statusCode)).Inc()
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordAuditEvent は記録された監査イベントを数える。
func (c *Collector) RecordAuditEvent(status string) {
	c.auditEvents.WithLabelValues(status).Inc()
}

// RecordAuditFailure は監査イベントの書き込み失敗を数える。
func (c *Collector) RecordAuditFailure() {
	c.auditFailures.Inc()
}

// RecordNotification は通知ディスパッチの結果を数える。
func (c *Collector) RecordNotification(outcome string) {
	c.notifications.WithLabelValues(outcome).Inc()
}

// RecordWebhook はWebhook送信の結果を数える。
func (c *Collector) RecordWebhook(purpose, outcome string) {
	c.webhooks.WithLabelValues(purpose, outcome).Inc()
}

// RecordAuthAttempt は認証試行の結果を数える。
func (c *Collector) RecordAuthAttempt(kind, outcome string) {
	c.authAttempts.WithLabelValues(kind, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
