package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. A nil *Metrics disables
// instrumentation.
type Metrics struct {
	TransfersTotal       *prometheus.CounterVec
	BurnsTotal           *prometheus.CounterVec
	MintsTotal           *prometheus.CounterVec
	ReservationsTotal    *prometheus.CounterVec
	SwapsTotal           *prometheus.CounterVec
	ConservationFailures prometheus.Counter
	OperationDuration    *prometheus.HistogramVec
}

// NewMetrics registers the service collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transfers_total",
				Help: "Total transfer attempts.",
			},
			[]string{"status"},
		),
		BurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_burns_total",
				Help: "Total burn attempts.",
			},
			[]string{"status"},
		),
		MintsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_mints_total",
				Help: "Total reward mint attempts.",
			},
			[]string{"status"},
		),
		ReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reservations_total",
				Help: "Total reservation operations.",
			},
			[]string{"op", "status"},
		),
		SwapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_swaps_total",
				Help: "Total swap attempts.",
			},
			[]string{"status"},
		),
		ConservationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_conservation_failures_total",
				Help: "Conservation check failures; any nonzero value is a defect.",
			},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Command processing duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
	if registry != nil {
		registry.MustRegister(
			m.TransfersTotal, m.BurnsTotal, m.MintsTotal,
			m.ReservationsTotal, m.SwapsTotal,
			m.ConservationFailures, m.OperationDuration,
		)
	}
	return m
}

// Nil-safe field accessors: call sites evaluate counter fields before
// count's nil-receiver guard runs, so field access must itself tolerate
// a nil *Metrics.
func (m *Metrics) transfers() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.TransfersTotal
}

func (m *Metrics) burns() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.BurnsTotal
}

func (m *Metrics) mints() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.MintsTotal
}

func (m *Metrics) reservations() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.ReservationsTotal
}

func (m *Metrics) swaps() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.SwapsTotal
}

func (m *Metrics) count(vec *prometheus.CounterVec, labels ...string) {
	if m == nil || vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
