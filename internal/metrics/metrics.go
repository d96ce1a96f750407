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
// ミドルウェア、ドキュメントストア、ワークスペースの各コンポーネントから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordStoreOp(op, collection string, duration time.Duration, err error)
	RecordRouteLoad(count int, err error)
	RecordRouteDelete(outcome string)
	RecordProfileSync(outcome string)
	RecordProfileUpdate(outcome string)
	SetActiveWorkspaces(n int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus      *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	storeLatency    *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec
	routeLoads      *prometheus.CounterVec
	routesLoaded    prometheus.Gauge
	routeDeletes    *prometheus.CounterVec
	profileSyncs    *prometheus.CounterVec
	profileUpdates  *prometheus.CounterVec
	workspaces      prometheus.Gauge
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rutas_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rutas_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rutas_docstore_op_duration_seconds",
			Help:    "ドキュメントストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "collection"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rutas_docstore_errors_total",
			Help: "失敗したドキュメントストア操作の数",
		}, []string{"op", "collection"}),
		routeLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rutas_route_loads_total",
			Help: "ルート一覧の取得回数",
		}, []string{"result"}),
		routesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rutas_routes_loaded",
			Help: "直近に取得したルート件数",
		}),
		routeDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rutas_route_deletes_total",
			Help: "ルート削除要求の結果別の数",
		}, []string{"outcome"}),
		profileSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rutas_profile_sync_total",
			Help: "認証状態の変化に伴うプロフィール同期の結果別の数",
		}, []string{"outcome"}),
		profileUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rutas_profile_updates_total",
			Help: "プロフィール更新の結果別の数",
		}, []string{"outcome"}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rutas_workspaces_active",
			Help: "稼働中のワークスペース数",
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rutas_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.httpLatency,
		c.storeLatency,
		c.storeErrors,
		c.routeLoads,
		c.routesLoaded,
		c.routeDeletes,
		c.profileSyncs,
		c.profileUpdates,
		c.workspaces,
		c.sessionsCleaned,
	)

	return c
}

// RecordHTTPRequest はHTTPレスポンスのステータスコードと処理時間を記録する。
// routeにはchiのルートパターンを渡し、ラベルの種類数を抑える。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStoreOp はドキュメントストア操作のレイテンシと失敗を記録する。
func (c *Collector) RecordStoreOp(op, collection string, duration time.Duration, err error) {
	c.storeLatency.WithLabelValues(op, collection).Observe(duration.Seconds())
	if err != nil {
		c.storeErrors.WithLabelValues(op, collection).Inc()
	}
}

// RecordRouteLoad はルート一覧の取得結果を記録する。
func (c *Collector) RecordRouteLoad(count int, err error) {
	if err != nil {
		c.routeLoads.WithLabelValues("failed").Inc()
		return
	}
	c.routeLoads.WithLabelValues("ok").Inc()
	c.routesLoaded.Set(float64(count))
}

// RecordRouteDelete はルート削除の結果を記録する。
func (c *Collector) RecordRouteDelete(outcome string) {
	c.routeDeletes.WithLabelValues(outcome).Inc()
}

// RecordProfileSync はプロフィール同期の結果を記録する。
func (c *Collector) RecordProfileSync(outcome string) {
	c.profileSyncs.WithLabelValues(outcome).Inc()
}

// RecordProfileUpdate はプロフィール更新の結果を記録する。
func (c *Collector) RecordProfileUpdate(outcome string) {
	c.profileUpdates.WithLabelValues(outcome).Inc()
}

// SetActiveWorkspaces は稼働中のワークスペース数を設定する。
func (c *Collector) SetActiveWorkspaces(n int) {
	c.workspaces.Set(float64(n))
}

// RecordSessionsCleaned は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
