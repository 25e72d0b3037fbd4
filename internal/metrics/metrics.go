// Package metrics holds the Prometheus instruments for the pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	fetchRetries   *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	recordsTotal   *prometheus.CounterVec
	driftFindings  *prometheus.CounterVec
	assetsUpserted prometheus.Counter
	runInProgress  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_runs_total",
			Help: "Pipeline runs by final status",
		}, []string{"status"}), // success, failed, skipped
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		fetchRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_fetch_retries_total",
			Help: "Retried upstream fetch attempts",
		}, []string{"source"}),
		fetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_fetch_failures_total",
			Help: "Fetches that failed after exhausting retries",
		}, []string{"source"}),
		recordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_records_total",
			Help: "Records seen per source and stage",
		}, []string{"source", "stage"}), // fetched, transformed, skipped
		driftFindings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_schema_drift_findings_total",
			Help: "Schema drift findings per source and kind",
		}, []string{"source", "kind"}), // missing, unexpected, rename
		assetsUpserted: f.NewCounter(prometheus.CounterOpts{
			Name: "etl_assets_upserted_total",
			Help: "Unified assets written",
		}),
		runInProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: "etl_run_in_progress",
			Help: "1 while a run holds the guard",
		}),
	}
}

func (m *Metrics) RunFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) RunSkipped() {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues("skipped").Inc()
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.runInProgress.Set(1)
	} else {
		m.runInProgress.Set(0)
	}
}

func (m *Metrics) FetchRetry(source string) {
	if m == nil {
		return
	}
	m.fetchRetries.WithLabelValues(source).Inc()
}

func (m *Metrics) FetchFailed(source string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) Records(source, stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsTotal.WithLabelValues(source, stage).Add(float64(n))
}

func (m *Metrics) Drift(source, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.driftFindings.WithLabelValues(source, kind).Add(float64(n))
}

func (m *Metrics) AssetsUpserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.assetsUpserted.Add(float64(n))
}
