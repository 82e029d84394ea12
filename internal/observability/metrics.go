package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for janitor self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Scan metrics
	ResourcesScanned *prometheus.GaugeVec
	ScanErrorsTotal  *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec

	// Classification metrics
	VerdictsTotal *prometheus.CounterVec

	// Execution metrics
	DeletionsTotal  *prometheus.CounterVec
	DeleteDuration  *prometheus.HistogramVec
	RecoveriesTotal prometheus.Counter
	GroupsInFlight  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ResourcesScanned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "janitor_resources_scanned",
			Help: "Number of resources captured in the last scan, per kind.",
		}, []string{"kind"}),
		ScanErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_scan_errors_total",
			Help: "Total number of per-kind list failures tolerated during scans.",
		}, []string{"kind"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "janitor_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),

		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_verdicts_total",
			Help: "Total classification verdicts produced.",
		}, []string{"ownership", "reason"}),

		DeletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "janitor_deletions_total",
			Help: "Total deletion attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		DeleteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "janitor_delete_duration_seconds",
			Help:    "Duration of individual delete operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
		RecoveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "janitor_finalizer_recoveries_total",
			Help: "Total single-shot finalizer-clear recoveries attempted.",
		}),
		GroupsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "janitor_sequence_group_in_flight",
			Help: "Sequence group currently being executed (0 when idle).",
		}),
	}

	reg.MustRegister(
		m.ResourcesScanned,
		m.ScanErrorsTotal,
		m.StageDuration,
		m.VerdictsTotal,
		m.DeletionsTotal,
		m.DeleteDuration,
		m.RecoveriesTotal,
		m.GroupsInFlight,
	)

	return m
}
