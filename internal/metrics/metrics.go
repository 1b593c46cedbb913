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
// 予約サービス、通知ディスパッチャ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordReservationRequest(operation, outcome string)
	ObserveLockWait(d time.Duration)
	RecordNotification(sink, outcome string)
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reservationRequests *prometheus.CounterVec
	lockWait            prometheus.Histogram
	notifications       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpLatency         prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reservationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sailbook_reservation_requests_total",
			Help: "予約操作の結果別の合計数",
		}, []string{"operation", "outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sailbook_lock_wait_seconds",
			Help:    "予約ロック取得までの待ち時間（秒）",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sailbook_notifications_total",
			Help: "送信先・結果別の通知数",
		}, []string{"sink", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sailbook_http_requests_total",
			Help: "HTTPメソッド・ステータスコード別のリクエスト数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sailbook_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.reservationRequests,
		c.lockWait,
		c.notifications,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordReservationRequest は予約操作（create, cancel, confirm）の結果を記録する。
func (c *Collector) RecordReservationRequest(operation, outcome string) {
	c.reservationRequests.WithLabelValues(operation, outcome).Inc()
}

// ObserveLockWait は予約ロックの待ち時間を記録する。
func (c *Collector) ObserveLockWait(d time.Duration) {
	c.lockWait.Observe(d.Seconds())
}

// RecordNotification は通知の送信結果を記録する。
func (c *Collector) RecordNotification(sink, outcome string) {
	c.notifications.WithLabelValues(sink, outcome).Inc()
}

// RecordHTTPRequest はHTTPリクエストの結果と処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
