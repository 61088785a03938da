// Package observability bundles tracing and metrics bootstrap for the
// orchestrator. This file exposes Prometheus instrumentation for the
// domain itself: sends, retries, delivery callbacks, lifecycle
// transitions, and reconciliation repairs. Label sets are kept small and
// closed (channel names, status enums, repair categories) so cardinality
// stays bounded.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SendsTotal counts send attempts that reached a final outcome, by
	// channel and outcome (sent|failed|blocked).
	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_sends_total",
			Help: "Total cadence step sends by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	// SendRetriesTotal counts individual retry sleeps performed by the
	// backoff executor.
	SendRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_send_retries_total",
			Help: "Total backoff retries performed for channel sends.",
		},
	)

	// DeliveryCallbacksTotal counts inbound delivery-status callbacks by
	// processing result (updated|not_tracked|unknown_status|stale).
	DeliveryCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_callbacks_total",
			Help: "Total delivery-status callbacks by processing result.",
		},
		[]string{"result"},
	)

	// EnrollmentTransitionsTotal counts lifecycle transitions by target
	// status.
	EnrollmentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_transitions_total",
			Help: "Total enrollment lifecycle transitions by new status.",
		},
		[]string{"status"},
	)

	// ReconciliationRepairsTotal counts repaired divergences by category.
	ReconciliationRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_repairs_total",
			Help: "Total reconciliation repairs by divergence category.",
		},
		[]string{"category"},
	)

	// FullSyncsTotal counts completed full-sync passes.
	FullSyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_full_syncs_total",
			Help: "Total completed reconciliation full syncs.",
		},
	)
)

// init registers domain collectors with the default registry so the
// /metrics endpoint exposes them without additional wiring.
func init() {
	prometheus.MustRegister(
		SendsTotal,
		SendRetriesTotal,
		DeliveryCallbacksTotal,
		EnrollmentTransitionsTotal,
		ReconciliationRepairsTotal,
		FullSyncsTotal,
	)
}
