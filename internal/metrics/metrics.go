// Package metrics содержит сборщики Prometheus движка совместных закупок.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics объединяет счётчики движка. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	transitions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	bids        *prometheus.CounterVec
	penalties   prometheus.Counter
	sweeps      prometheus.Histogram
	sweepErrors prometheus.Counter
}

// New создаёт и регистрирует сборщики в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied, by source and target status.",
		}, []string{"from", "to"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "decisions_total",
			Help:      "Final decisions recorded, by role and decision.",
		}, []string{"role", "decision"}),
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "bids_total",
			Help:      "Bid submissions, by result (created or updated).",
		}, []string{"result"}),
		penalties: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "penalties_total",
			Help:      "Penalty records issued to sellers.",
		}),
		sweeps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "groupbuy",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of deadline sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "sweep_errors_total",
			Help:      "Group-buys that failed to advance during a sweep.",
		}),
	}

	reg.MustRegister(m.transitions, m.decisions, m.bids, m.penalties, m.sweeps, m.sweepErrors)
	return m
}

// Transition учитывает переход между статусами.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// Decision учитывает записанное решение.
func (m *Metrics) Decision(role, decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(role, decision).Inc()
}

// Bid учитывает подачу ставки.
func (m *Metrics) Bid(created bool) {
	if m == nil {
		return
	}
	result := "updated"
	if created {
		result = "created"
	}
	m.bids.WithLabelValues(result).Inc()
}

// Penalty учитывает выданный штраф.
func (m *Metrics) Penalty() {
	if m == nil {
		return
	}
	m.penalties.Inc()
}

// Sweep учитывает длительность проверки сроков и число ошибок в ней.
func (m *Metrics) Sweep(d time.Duration, failed int) {
	if m == nil {
		return
	}
	m.sweeps.Observe(d.Seconds())
	m.sweepErrors.Add(float64(failed))
}
