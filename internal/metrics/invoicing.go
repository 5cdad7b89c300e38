package metrics

import (
	"time"

	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeGenerated = "generated"
	OutcomeEmpty     = "empty"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

const (
	ReasonTargetDateTooFarInFuture = "target_date_too_far_in_future"
	ReasonInvalidDateSequence      = "invalid_date_sequence"
	ReasonUnsupportedBillingMode   = "unsupported_billing_mode"
	ReasonInconsistentItems        = "inconsistent_items"
	ReasonValidation               = "validation"
	ReasonUnknown                  = "unknown"
)

// InvoicingMetrics tracks invoice generation runs
type InvoicingMetrics struct {
	generations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	items       *prometheus.CounterVec
	duration    prometheus.Histogram
	published   *prometheus.CounterVec
}

// NewInvoicingMetrics registers the collectors on registerer, the default registerer when nil
func NewInvoicingMetrics(registerer prometheus.Registerer) *InvoicingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &InvoicingMetrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicer_generations_total",
			Help: "Invoice generation runs by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicer_generation_errors_total",
			Help: "Invoice generation failures by low-cardinality reason.",
		}, []string{"reason"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicer_items_total",
			Help: "Invoice items emitted by type.",
		}, []string{"type"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoicer_generation_duration_seconds",
			Help:    "Time spent generating and reconciling the invoice of one account.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicer_published_total",
			Help: "Generated invoices handed to the publisher by result.",
		}, []string{"result"}),
	}

	registerer.MustRegister(m.generations, m.failures, m.items, m.duration, m.published)
	return m
}

// ObserveGeneration records one run. A nil receiver records nothing.
func (m *InvoicingMetrics) ObserveGeneration(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *InvoicingMetrics) ObserveFailure(err error) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(OutcomeFailed).Inc()
	m.failures.WithLabelValues(ClassifyGenerationError(err)).Inc()
}

func (m *InvoicingMetrics) ObserveItems(itemType string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.items.WithLabelValues(itemType).Add(float64(count))
}

func (m *InvoicingMetrics) ObservePublished(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.published.WithLabelValues(result).Inc()
}

// ClassifyGenerationError maps an error to a reason label
func ClassifyGenerationError(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case ierr.IsTargetDateTooFarInFuture(err):
		return ReasonTargetDateTooFarInFuture
	case ierr.IsInvalidDateSequence(err):
		return ReasonInvalidDateSequence
	case ierr.IsUnsupportedBillingMode(err):
		return ReasonUnsupportedBillingMode
	case ierr.IsInconsistentItems(err):
		return ReasonInconsistentItems
	case ierr.IsValidation(err):
		return ReasonValidation
	default:
		return ReasonUnknown
	}
}
