package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lake_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec   // labels: outcome={done,failed,conflict,invalid}
	AttemptsTotal    *prometheus.CounterVec   // labels: outcome={success,failure}
	StageDuration    *prometheus.HistogramVec // labels: stage={radar,model,derive,merge,write}
	RequestsInFlight prometheus.Gauge

	// Transfer metrics.
	DownloadBytes    *prometheus.CounterVec   // labels: source={hrrr,mrms-archive,mrms-cloud}
	DownloadDuration *prometheus.HistogramVec // labels: source

	// Service metrics.
	RetentionDeleted prometheus.Counter
	HistoryLookups   *prometheus.CounterVec // labels: result={hit,miss}

	// Request topic worker metrics.
	WorkerRunning  prometheus.Gauge
	WorkerMessages *prometheus.CounterVec // labels: outcome={done,failed,conflict,invalid}
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Process calls by terminal outcome.",
		}, []string{"outcome"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Processing attempts by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a pipeline stage within one attempt.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests currently holding an identity lock.",
		}),
		DownloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes transferred from remote sources.",
		}, []string{"source"}),
		DownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of a single remote transfer.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		RetentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Output directories removed by retention sweeps.",
		}),
		HistoryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_total",
			Help:      "Processing history lookups by result.",
		}, []string{"result"}),
		WorkerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "1 when the request topic worker is active, 0 otherwise.",
		}),
		WorkerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_messages_total",
			Help:      "Request topic messages by outcome.",
		}, []string{"outcome"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RequestsTotal,
		m.AttemptsTotal,
		m.StageDuration,
		m.RequestsInFlight,
		m.DownloadBytes,
		m.DownloadDuration,
		m.RetentionDeleted,
		m.HistoryLookups,
		m.WorkerRunning,
		m.WorkerMessages,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
