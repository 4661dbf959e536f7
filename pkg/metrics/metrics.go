package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fan-out metrics
	FanoutOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_fanout_operations_total",
			Help: "Total number of fan-out operations by operation",
		},
		[]string{"operation"},
	)

	FanoutNodeResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_fanout_node_results_total",
			Help: "Per-node fan-out outcomes by operation and result",
		},
		[]string{"operation", "result"},
	)

	FanoutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_fanout_duration_seconds",
			Help:    "Wall time of a whole fan-out operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RemoteExecDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_remote_exec_duration_seconds",
			Help:    "Duration of a single remote execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// User lifecycle metrics
	UsersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_users_total",
			Help: "Node user operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// Tracking store metrics
	TrackingOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tracking_operations_total",
			Help: "Task tracking store operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	ReconcilerSourceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_reconciler_source_total",
			Help: "Task listings served, by the source that answered",
		},
		[]string{"source"},
	)

	ReadRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciler_read_repairs_total",
			Help: "Tracking rows rewritten from newer scheduler state",
		},
	)

	// Log retrieval metrics
	LogBytesFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_log_bytes_fetched_total",
			Help: "Application log bytes fetched from nodes",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(FanoutOperationsTotal)
	prometheus.MustRegister(FanoutNodeResultsTotal)
	prometheus.MustRegister(FanoutDuration)
	prometheus.MustRegister(RemoteExecDuration)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(TrackingOperationsTotal)
	prometheus.MustRegister(ReconcilerSourceTotal)
	prometheus.MustRegister(ReadRepairsTotal)
	prometheus.MustRegister(LogBytesFetched)
}

// Result returns the "success"/"error" label for an error value
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
