// Package metrics 流水线的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ainews"

// Metrics 各步骤结果计数。nil 接收者上的方法都是空操作,服务在测试中可以不带指标
type Metrics struct {
	// Labels: result (added, skipped, failed)
	ArticlesIngested *prometheus.CounterVec
	// Labels: verdict (approved, rejected_language, rejected_relevance, rejected_short, failed)
	FilterVerdicts *prometheus.CounterVec
	// Labels: result (summarized, out_of_band, skipped, failed)
	Summaries *prometheus.CounterVec
	// Labels: bound (age, rejected, count, fetch_logs, snapshots)
	PurgedRows *prometheus.CounterVec

	StorageUsagePercent prometheus.Gauge
	ArticlesStored      prometheus.Gauge
}

// New 在给定的 Registerer 上注册全部指标
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ArticlesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_ingested_total",
			Help:      "Feed entries processed by ingestion, by result.",
		}, []string{"result"}),
		FilterVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_verdicts_total",
			Help:      "Filter step outcomes, by verdict.",
		}, []string{"verdict"}),
		Summaries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Summarize step outcomes, by result.",
		}, []string{"result"}),
		PurgedRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_rows_total",
			Help:      "Rows hard-deleted by the retention engine, by bound.",
		}, []string{"bound"}),
		StorageUsagePercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_usage_percent",
			Help:      "Database size as a percentage of the configured limit.",
		}),
		ArticlesStored: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "articles_stored",
			Help:      "Article rows currently stored.",
		}),
	}
}

func (m *Metrics) IngestResult(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ArticlesIngested.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) FilterVerdict(verdict string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilterVerdicts.WithLabelValues(verdict).Add(float64(n))
}

func (m *Metrics) SummaryResult(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Summaries.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) Purged(bound string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PurgedRows.WithLabelValues(bound).Add(float64(n))
}

// Storage 更新存储相关仪表
func (m *Metrics) Storage(usagePercent float64, articles int64) {
	if m == nil {
		return
	}
	m.StorageUsagePercent.Set(usagePercent)
	m.ArticlesStored.Set(float64(articles))
}
