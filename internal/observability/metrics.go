package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	AssignmentsTotal    *prometheus.CounterVec
	AssignmentConflicts prometheus.Counter
	AssignmentDuration  prometheus.Histogram
	ProviderDegraded    *prometheus.CounterVec
	RulesSkipped        prometheus.Counter
	SLADefaultFallbacks *prometheus.CounterVec
	SLAWarningsSent     prometheus.Counter
	RebalanceRuns       *prometheus.CounterVec
	RebalanceMoves      *prometheus.CounterVec
	RebalanceStdDev     *prometheus.GaugeVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http",
			Name:      "errors_total",
			Help:      "HTTP errors by route, method and error code",
		}, []string{"path", "method", "code"}),
		AssignmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assignment",
			Name:      "decisions_total",
			Help:      "Assignment decisions by decision path and outcome",
		}, []string{"path", "outcome"}),
		AssignmentConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "assignment",
			Name:      "conflicts_total",
			Help:      "Compare-and-swap conflicts on ticket assignment writes",
		}),
		AssignmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assignment",
			Name:      "duration_seconds",
			Help:      "Time taken to decide and commit one assignment",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ProviderDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assignment",
			Name:      "provider_degraded_total",
			Help:      "Scoring inputs replaced by neutral defaults, by provider",
		}, []string{"provider"}),
		RulesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rules",
			Name:      "malformed_skipped_total",
			Help:      "Malformed rules skipped during evaluation",
		}),
		SLADefaultFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sla",
			Name:      "policy_fallbacks_total",
			Help:      "SLA lookups resolved by wildcard or default rows",
		}, []string{"source"}),
		SLAWarningsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sla",
			Name:      "breach_warnings_total",
			Help:      "SLA breach imminent notifications emitted",
		}),
		RebalanceRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rebalance",
			Name:      "runs_total",
			Help:      "Rebalance runs by result",
		}, []string{"result"}),
		RebalanceMoves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rebalance",
			Name:      "moves_total",
			Help:      "Rebalance moves by status",
		}, []string{"status"}),
		RebalanceStdDev: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rebalance",
			Name:      "workload_stddev",
			Help:      "Workload standard deviation before and after the last rebalance",
		}, []string{"phase"}),
	}
}

// RecordError counts a failed request by route and error code.
func (m *Metrics) RecordError(path, method, code string) {
	m.ErrorsTotal.WithLabelValues(path, method, code).Inc()
}
