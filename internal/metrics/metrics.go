// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー・サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(route, method string, statusCode int, duration time.Duration)
	RecordBackendRequest(route string, statusCode int, duration time.Duration)
	RecordGeneration(kind string, err error)
	RecordRateLimited(limitType string)
	RecordSignIn(method string)
	RecordCleanup(target string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	backendStatus  *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	generations    *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	signIns        *prometheus.CounterVec
	cleaned        *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_http_requests_total",
			Help: "ルート・ステータスコード別のHTTPリクエスト数",
		}, []string{"route", "method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "momentum_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_backend_requests_total",
			Help: "生成バックエンドへのリクエスト数。通信エラーはstatus_code=0",
		}, []string{"route", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "momentum_backend_latency_seconds",
			Help:    "生成バックエンド呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"route"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_generations_total",
			Help: "成果物生成リクエスト数",
		}, []string{"kind", "result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_rate_limited_total",
			Help: "レート制限により拒否されたリクエスト数",
		}, []string{"limit_type"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_sign_ins_total",
			Help: "サインイン方式別のサインイン成功数",
		}, []string{"method"}),
		cleaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_cleanup_deleted_total",
			Help: "クリーンアップで削除したレコード数",
		}, []string{"target"}),
		reg: reg,
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.backendStatus,
		c.backendLatency,
		c.generations,
		c.rateLimited,
		c.signIns,
		c.cleaned,
	)

	return c
}

// RegisterAuthStateStores はセッションごとの認証状態ストア数を公開するゲージを登録する。
// countはスクレイプのたびに呼ばれる。
func (c *Collector) RegisterAuthStateStores(count func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "momentum_authstate_stores",
		Help: "メモリ上に保持している認証状態ストアの数",
	}, func() float64 { return float64(count()) }))
}

// RecordHTTPRequest はHTTPリクエストの結果と処理時間を記録する。
func (c *Collector) RecordHTTPRequest(route, method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordBackendRequest は生成バックエンドへのリクエストを記録する。
func (c *Collector) RecordBackendRequest(route string, statusCode int, duration time.Duration) {
	c.backendStatus.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	c.backendLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordGeneration は成果物生成の結果を記録する。kindは "text" または "audio"。
func (c *Collector) RecordGeneration(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.generations.WithLabelValues(kind, result).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// RecordSignIn はサインイン成功を記録する。
func (c *Collector) RecordSignIn(method string) {
	c.signIns.WithLabelValues(method).Inc()
}

// RecordCleanup はクリーンアップで削除したレコード数を記録する。
func (c *Collector) RecordCleanup(target string, count int64) {
	c.cleaned.WithLabelValues(target).Add(float64(count))
}

// HTTPMiddleware はリクエストごとにステータスコードと処理時間を記録するミドルウェアを返す。
// ルートラベルにはchiのルートパターンを使い、未マッチのリクエストは "unmatched" とする。
func HTTPMiddleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			c.RecordHTTPRequest(route, r.Method, m.Code, m.Duration)
		})
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
