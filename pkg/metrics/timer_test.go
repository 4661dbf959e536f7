package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestTimerDuration tests duration measurement
func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	d1 := timer.Duration()
	assert.GreaterOrEqual(t, d1, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), d1)
}

// TestTimerObserveDurationVec tests histogram vec observation
func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_duration_vec_seconds",
			Help:    "Test duration histogram vec",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(histogramVec, "run")
	timer.ObserveDurationVec(histogramVec, "run")

	assert.Equal(t, 1, testutil.CollectAndCount(histogramVec))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "success", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestCountersRegistered(t *testing.T) {
	before := testutil.ToFloat64(FanoutNodeResultsTotal.WithLabelValues("test", "success"))
	FanoutNodeResultsTotal.WithLabelValues("test", "success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FanoutNodeResultsTotal.WithLabelValues("test", "success")))
}
