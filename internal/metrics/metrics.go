package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation outcomes.
const (
	OutcomeNewPrimary       = "new_primary"
	OutcomeSecondaryCreated = "secondary_created"
	OutcomeMerged           = "merged"
	OutcomeUnchanged        = "unchanged"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	Reconciliations *prometheus.CounterVec
	Demoted         prometheus.Counter
	Failures        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bitespeed_reconciliations_total",
			Help: "Completed identity reconciliations by outcome",
		}, []string{"outcome"}),
		Demoted: f.NewCounter(prometheus.CounterOpts{
			Name: "bitespeed_contacts_demoted_total",
			Help: "Primary contacts demoted to secondary by cluster merges",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bitespeed_reconciliation_failures_total",
			Help: "Failed identity reconciliations by error code",
		}, []string{"code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bitespeed_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObserveOutcome counts a finished reconciliation. A nil receiver is a no-op.
func (m *Metrics) ObserveOutcome(outcome string, demoted int) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
	if demoted > 0 {
		m.Demoted.Add(float64(demoted))
	}
}

func (m *Metrics) ObserveFailure(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.Failures.WithLabelValues(code).Inc()
}
