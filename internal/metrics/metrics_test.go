package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunFinished("success", time.Second)
		m.FetchRetry("coingecko")
		m.Records("csv", "fetched", 3)
		m.SetRunning(true)
	})
}

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RunFinished("success", 2*time.Second)
	m.RunFinished("failed", time.Second)
	m.FetchRetry("coingecko")
	m.FetchRetry("coingecko")
	m.Records("csv", "skipped", 2)
	m.Records("csv", "skipped", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchRetries.WithLabelValues("coingecko")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("csv", "skipped")))
}
