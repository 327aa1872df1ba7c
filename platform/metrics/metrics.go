// Package metrics holds the Prometheus instruments for the case lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	CasesCreated       prometheus.Counter
	SideEffectsTotal   *prometheus.CounterVec
	LedgerBreakerOpen  prometheus.Gauge
	OutboxRedispatched prometheus.Counter
	AutoClosedTotal    prometheus.Counter
}

// New creates all instruments on reg. Pass prometheus.DefaultRegisterer in
// the binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safereport_case_transitions_total",
			Help: "Transition attempts by intent and outcome",
		}, []string{"intent", "outcome"}),
		TransitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safereport_case_transition_duration_seconds",
			Help:    "Time spent applying a transition including lock wait",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"intent"}),
		CasesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "safereport_cases_created_total",
			Help: "Total number of cases created through intake",
		}),
		SideEffectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safereport_side_effects_total",
			Help: "Side effect deliveries by kind and outcome",
		}, []string{"kind", "outcome"}),
		LedgerBreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "safereport_ledger_breaker_open",
			Help: "1 while the ledger circuit breaker is open",
		}),
		OutboxRedispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "safereport_outbox_redispatched_total",
			Help: "Outbox rows re-driven by the scheduler",
		}),
		AutoClosedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "safereport_cases_auto_closed_total",
			Help: "Cases closed by the confirmation deadline sweep",
		}),
	}
}

// ObserveTransition records one transition attempt.
func (m *Metrics) ObserveTransition(intent, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(intent, outcome).Inc()
	m.TransitionDuration.WithLabelValues(intent).Observe(elapsed.Seconds())
}

// IncCasesCreated increments the created counter.
func (m *Metrics) IncCasesCreated() {
	if m == nil {
		return
	}
	m.CasesCreated.Inc()
}

// ObserveSideEffect records a delivery outcome.
func (m *Metrics) ObserveSideEffect(kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if !ok {
		outcome = "failed"
	}
	m.SideEffectsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetLedgerBreakerOpen flips the breaker gauge.
func (m *Metrics) SetLedgerBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.LedgerBreakerOpen.Set(1)
		return
	}
	m.LedgerBreakerOpen.Set(0)
}

// AddOutboxRedispatched counts rows handed back to the dispatcher.
func (m *Metrics) AddOutboxRedispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboxRedispatched.Add(float64(n))
}

// IncAutoClosed counts one deadline closure.
func (m *Metrics) IncAutoClosed() {
	if m == nil {
		return
	}
	m.AutoClosedTotal.Inc()
}
