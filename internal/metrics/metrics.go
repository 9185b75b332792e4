// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// ledger.Metricsインターフェースを満たし、認証系のカウンターも提供する。
type Collector struct {
	logins            *prometheus.CounterVec
	mergeOutcomes     *prometheus.CounterVec
	expenseWrites     *prometheus.CounterVec
	viewRecompute     prometheus.Histogram
	streamSubscribers prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_login_total",
			Help: "認証方法・結果別のログイン試行数",
		}, []string{"method", "outcome"}),
		mergeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_merge_total",
			Help: "結果別のアカウント統合試行数",
		}, []string{"outcome"}),
		expenseWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kakeibo_expense_writes_total",
			Help: "操作別の支出レコード書き込み数",
		}, []string{"op"}),
		viewRecompute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kakeibo_view_recompute_seconds",
			Help:    "LedgerView全件再計算の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		streamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kakeibo_stream_subscribers",
			Help: "ライブ購読中のクライアント数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.mergeOutcomes,
		c.expenseWrites,
		c.viewRecompute,
		c.streamSubscribers,
	)

	return c
}

// RecordLogin はログイン試行を記録する。
// methodは "password", "federated", "signup"、outcomeは "success", "failure"。
func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// RecordMergeOutcome はアカウント統合の結果を記録する。
// outcomeは "merged", "wrong_password", "link_failed", "unsupported", "abandoned"。
func (c *Collector) RecordMergeOutcome(outcome string) {
	c.mergeOutcomes.WithLabelValues(outcome).Inc()
}

// RecordExpenseWrite は支出レコードの書き込み操作を記録する。
func (c *Collector) RecordExpenseWrite(op string) {
	c.expenseWrites.WithLabelValues(op).Inc()
}

// RecordViewRecompute はLedgerView再計算の所要時間を記録する。
func (c *Collector) RecordViewRecompute(d time.Duration) {
	c.viewRecompute.Observe(d.Seconds())
}

// IncStreamSubscribers はライブ購読者数を増やす。
func (c *Collector) IncStreamSubscribers() {
	c.streamSubscribers.Inc()
}

// DecStreamSubscribers はライブ購読者数を減らす。
func (c *Collector) DecStreamSubscribers() {
	c.streamSubscribers.Dec()
}

// Handler は指定されたレジストリのメトリクスを公開するHTTPハンドラーを返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
