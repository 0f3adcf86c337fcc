// Package metrics provides the prometheus collectors of integrationd.
//
// # Basic Usage
//
//	// Record a status transition
//	metrics.RecordTransition("c-42", "WAITING", "FAILED")
//
//	// Time a refresh
//	timer := metrics.NewTimer()
//	err := connector.Refresh(ctx)
//	metrics.RefreshDuration.WithLabelValues("c-42", "refresh", metrics.Outcome(err)).
//	    Observe(timer.Stop().Seconds())
//
// Every collector is registered with the default prometheus registry through
// promauto and is exposed by the daemon's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "integrationd"

var (
	// Transitions counts connector status transitions.
	// Labels: connector (id), to (new status)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "transitions_total",
			Help:      "Connector status transitions",
		},
		[]string{"connector", "to"},
	)

	// ConnectorStatus is 1 for the current status of each connector.
	// Labels: connector (id), status
	ConnectorStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "status",
			Help:      "Current connector status (1 for the active status)",
		},
		[]string{"connector", "status"},
	)

	// RefreshDuration tracks how long refresh and engage cycles take.
	// Labels: connector, operation (refresh/engage), outcome (success/failure)
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of connector refresh and engage cycles",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"connector", "operation", "outcome"},
	)

	// Reconciliations counts group reconciliation actions.
	// Labels: group, action (added/updated/removed/skipped)
	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "reconciliation_actions_total",
			Help:      "Connector registrations added, updated, removed or skipped by group reconciliation",
		},
		[]string{"group", "action"},
	)

	// GroupConnectors is the number of live handlers per group or service.
	GroupConnectors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "connectors",
			Help:      "Connector handlers owned by a group or service",
		},
		[]string{"owner"},
	)

	// SchedulerSkips counts refreshes the scheduler did not dispatch.
	// Labels: reason (in_flight/saturated)
	SchedulerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "skipped_total",
			Help:      "Due refreshes that were not dispatched",
		},
		[]string{"reason"},
	)

	// APIRequests counts operator API requests.
	// Labels: route, code
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Operator API requests",
		},
		[]string{"route", "code"},
	)
)

// RecordTransition updates the transition counter and the status gauge
func RecordTransition(connectorID, from, to string) {
	Transitions.WithLabelValues(connectorID, to).Inc()
	if from != "" && from != to {
		ConnectorStatus.DeleteLabelValues(connectorID, from)
	}
	ConnectorStatus.WithLabelValues(connectorID, to).Set(1)
}

// ForgetConnector removes the status series of a connector that was dropped
func ForgetConnector(connectorID string) {
	ConnectorStatus.DeletePartialMatch(prometheus.Labels{"connector": connectorID})
}

// Outcome maps an error to the outcome label value
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Timer measures an elapsed duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since the timer was created
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
