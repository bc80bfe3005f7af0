// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// チェックサイクルと配信層から利用する。
type MetricsCollector interface {
	RecordCycle(duration time.Duration)
	RecordCycleSkipped()
	RecordCreatorChecked()
	RecordCreatorError()
	RecordWorksDelivered(count int)
	RecordDeliveryFailure()
	RecordBundledSend()
	RecordSequentialSend()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cyclesTotal      prometheus.Counter
	cyclesSkipped    prometheus.Counter
	cycleDuration    prometheus.Histogram
	creatorsChecked  prometheus.Counter
	creatorErrors    prometheus.Counter
	worksDelivered   prometheus.Counter
	deliveryFailures prometheus.Counter
	bundledSends     prometheus.Counter
	sequentialSends  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixivpush_cycles_total",
			Help: "実行されたチェックサイクルの合計数",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixivpush_cycles_skipped_total",
			Help: "前サイクル実行中のためスキップされたサイクルの合計数",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixivpush_cycle_duration_seconds",
			Help:    "チェックサイクルの所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		creatorsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixivpush_creators_checked_total",
			Help: "チェックした絵師の合計数",
		}),
		creatorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixivpush_creator_errors_total",
			Help: "絵師チェック失敗の合計数",
		}),
		worksDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixivpush_works_delivered_total",
			Help: "グループへ配信した作品の合計数",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixivpush_delivery_failures_total",
			Help: "グループ配信失敗の合計数",
		}),
		bundledSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixivpush_bundled_sends_total",
			Help: "合併転送による送信の合計数",
		}),
		sequentialSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixivpush_sequential_sends_total",
			Help: "逐次送信によるメッセージの合計数",
		}),
	}

	reg.MustRegister(
		c.cyclesTotal,
		c.cyclesSkipped,
		c.cycleDuration,
		c.creatorsChecked,
		c.creatorErrors,
		c.worksDelivered,
		c.deliveryFailures,
		c.bundledSends,
		c.sequentialSends,
	)

	return c
}

// RecordCycle はサイクルの完了と所要時間を記録する。
func (c *Collector) RecordCycle(duration time.Duration) {
	c.cyclesTotal.Inc()
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordCycleSkipped はサイクルのスキップを記録する。
func (c *Collector) RecordCycleSkipped() {
	c.cyclesSkipped.Inc()
}

// RecordCreatorChecked は絵師チェックの実行を記録する。
func (c *Collector) RecordCreatorChecked() {
	c.creatorsChecked.Inc()
}

// RecordCreatorError は絵師チェックの失敗を記録する。
func (c *Collector) RecordCreatorError() {
	c.creatorErrors.Inc()
}

// RecordWorksDelivered は配信した作品数を記録する。
func (c *Collector) RecordWorksDelivered(count int) {
	c.worksDelivered.Add(float64(count))
}

// RecordDeliveryFailure はグループ配信の失敗を記録する。
func (c *Collector) RecordDeliveryFailure() {
	c.deliveryFailures.Inc()
}

// RecordBundledSend は合併転送送信を記録する。
func (c *Collector) RecordBundledSend() {
	c.bundledSends.Inc()
}

// RecordSequentialSend は逐次送信を記録する。
func (c *Collector) RecordSequentialSend() {
	c.sequentialSends.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
