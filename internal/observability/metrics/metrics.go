// Package metrics 定义校验流程与后台任务的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification 记录校验各阶段耗时与结果。nil 接收者上的方法均为空操作。
type Verification struct {
	StageLatency *prometheus.HistogramVec
	StageOutcome *prometheus.CounterVec
	Outcome      *prometheus.CounterVec
	Latency      prometheus.Histogram
}

// NewVerification 在 reg 上注册校验指标。reg 为 nil 时使用默认注册表。
func NewVerification(reg prometheus.Registerer) *Verification {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Verification{
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oattest_verify_stage_duration_seconds",
			Help:    "Duration of a single verification stage by category",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"category"}),
		StageOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oattest_verify_stage_total",
			Help: "Verification fragments by category and status",
		}, []string{"category", "status"}),
		Outcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oattest_verify_documents_total",
			Help: "Verified documents by overall validity",
		}, []string{"valid"}),
		Latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "oattest_verify_duration_seconds",
			Help:    "Duration of a full verification including all stages",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// ObserveStage 记录一个阶段的耗时与状态。
func (m *Verification) ObserveStage(category, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(category).Observe(d.Seconds())
	m.StageOutcome.WithLabelValues(category, status).Inc()
}

// ObserveDocument 记录一次完整校验。
func (m *Verification) ObserveDocument(valid bool, d time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if valid {
		label = "true"
	}
	m.Outcome.WithLabelValues(label).Inc()
	m.Latency.Observe(d.Seconds())
}

// Jobs 记录后台任务的处理情况。
type Jobs struct {
	Processed *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Retries   *prometheus.CounterVec
}

// NewJobs 在 reg 上注册任务指标。
func NewJobs(reg prometheus.Registerer) *Jobs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Jobs{
		Processed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oattest_jobs_total",
			Help: "Processed jobs by kind and final status",
		}, []string{"kind", "status"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oattest_job_duration_seconds",
			Help:    "Job execution duration by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oattest_job_retries_total",
			Help: "Job retries by kind and error code",
		}, []string{"kind", "code"}),
	}
}

// ObserveJob 记录一次任务执行。
func (m *Jobs) ObserveJob(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Processed.WithLabelValues(kind, status).Inc()
	m.Duration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRetry 记录一次重试。
func (m *Jobs) ObserveRetry(kind, code string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(kind, code).Inc()
}
