package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	PaymentsInitiated  prometheus.Counter
	InitiationFailures prometheus.Counter
	CallbacksReceived  prometheus.Counter
	CallbacksMalformed prometheus.Counter
	Reconciliations    *prometheus.CounterVec
	LookupMisses       prometheus.Counter
	SweptTransactions  prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PaymentsInitiated: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "STK push payments successfully initiated.",
		}),
		InitiationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_initiation_failures_total",
			Help: "Payment initiations rejected or failed at the gateway.",
		}),
		CallbacksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_callbacks_received_total",
			Help: "Gateway callbacks accepted for processing.",
		}),
		CallbacksMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_callbacks_malformed_total",
			Help: "Gateway callbacks rejected for unexpected shape.",
		}),
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_reconciliations_total",
			Help: "Callback reconciliations by terminal outcome.",
		}, []string{"outcome"}),
		LookupMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_callback_lookup_misses_total",
			Help: "Callbacks with no matching pending transaction.",
		}),
		SweptTransactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_stale_pending_swept_total",
			Help: "Pending transactions failed by the timeout sweep.",
		}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
