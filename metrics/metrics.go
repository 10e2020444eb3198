// Package metrics exposes Prometheus instruments for invoice generation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/timesheet/billing"
)

const namespace = "timesheet"

// Invoicing implements billing.Recorder.
type Invoicing struct {
	generated *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	lines     *prometheus.CounterVec
}

var _ billing.Recorder = (*Invoicing)(nil)

// NewInvoicing creates the instruments and registers them on reg.
func NewInvoicing(reg prometheus.Registerer) *Invoicing {
	m := &Invoicing{
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_generated_total",
			Help:      "Invoices generated, by scope (project|client).",
		}, []string{"scope"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_generation_failures_total",
			Help:      "Failed invoice generations, by scope and reason.",
		}, []string{"scope", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoice_generation_duration_seconds",
			Help:      "Wall time of one generation transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope", "outcome"}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_line_items_total",
			Help:      "Line items written by generated invoices, by line type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.generated, m.failed, m.duration, m.lines)
	return m
}

func (m *Invoicing) InvoiceGenerated(scope string, lines []billing.LineItemDraft, elapsed time.Duration) {
	m.generated.WithLabelValues(scope).Inc()
	m.duration.WithLabelValues(scope, "success").Observe(elapsed.Seconds())
	for _, li := range lines {
		m.lines.WithLabelValues(string(li.Type)).Inc()
	}
}

func (m *Invoicing) GenerationFailed(scope, reason string, elapsed time.Duration) {
	m.failed.WithLabelValues(scope, reason).Inc()
	m.duration.WithLabelValues(scope, "failure").Observe(elapsed.Seconds())
}
