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
// フロークライアント、セッションストア、ナビゲーションガード、履歴クライアントから利用する。
type MetricsCollector interface {
	RecordFlow(op, outcome string)
	RecordSessionWrite(op, outcome string)
	RecordGuardDecision(route, decision string)
	RecordHistoryLatency(status int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	flows          *prometheus.CounterVec
	sessionWrites  *prometheus.CounterVec
	guardDecisions *prometheus.CounterVec
	historyStatus  *prometheus.CounterVec
	historyLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatfront_identity_flows_total",
			Help: "IdPフロー（登録・ログイン・ログアウト）の結果別の合計数",
		}, []string{"op", "outcome"}),
		sessionWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatfront_session_store_operations_total",
			Help: "セッションストア操作の結果別の合計数",
		}, []string{"op", "outcome"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatfront_guard_decisions_total",
			Help: "ナビゲーションガードの判定結果別の合計数",
		}, []string{"route", "decision"}),
		historyStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatfront_history_status_total",
			Help: "チャット履歴APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		historyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatfront_history_latency_seconds",
			Help:    "チャット履歴取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.flows,
		c.sessionWrites,
		c.guardDecisions,
		c.historyStatus,
		c.historyLatency,
	)

	return c
}

// RecordFlow はIdPフローの結果を記録する。
func (c *Collector) RecordFlow(op, outcome string) {
	c.flows.WithLabelValues(op, outcome).Inc()
}

// RecordSessionWrite はセッションストア操作の結果を記録する。
func (c *Collector) RecordSessionWrite(op, outcome string) {
	c.sessionWrites.WithLabelValues(op, outcome).Inc()
}

// RecordGuardDecision はナビゲーションガードの判定を記録する。
func (c *Collector) RecordGuardDecision(route, decision string) {
	c.guardDecisions.WithLabelValues(route, decision).Inc()
}

// RecordHistoryLatency は履歴取得のステータスとレイテンシを記録する。
// 通信自体が失敗した場合のステータスは0として記録する。
func (c *Collector) RecordHistoryLatency(status int, duration time.Duration) {
	c.historyStatus.WithLabelValues(strconv.Itoa(status)).Inc()
	c.historyLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーは記録済みのメトリクスを返したうえでレスポンスに含める。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
