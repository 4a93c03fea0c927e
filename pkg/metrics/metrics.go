// Package metrics exposes loan book activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics owns a private registry so tests and multiple servers never clash
// on the global one.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	overdue    prometheus.Gauge
	pending    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendbook_loan_operations_total",
			Help: "Loan operations applied through the ledger, by outcome.",
		}, []string{"operation", "result"}),
		overdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lendbook_loans_overdue",
			Help: "Pending loans past their due date at the last scan.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lendbook_loans_pending",
			Help: "Pending loans at the last scan.",
		}),
	}
	m.registry.MustRegister(
		m.operations, m.overdue, m.pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Operation counts one ledger operation under the given result.
func (m *Metrics) Operation(op, result string) {
	m.operations.WithLabelValues(op, result).Inc()
}

// Portfolio records the outcome of an overdue scan.
func (m *Metrics) Portfolio(pending, overdue int) {
	m.pending.Set(float64(pending))
	m.overdue.Set(float64(overdue))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
