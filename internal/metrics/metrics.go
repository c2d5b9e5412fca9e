// Package metrics exposes Prometheus instrumentation for the engine.
//
// Grounded on graph/metrics.go from the teacher: a single struct holding
// promauto-registered gauges/histograms/counters behind an `enabled` flag,
// re-scoped from per-node graph execution metrics to the per-route,
// per-exchange metrics this engine's RouteMetric table and
// `/api/routes/metrics` endpoint need.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine updates.
type Metrics struct {
	exchangesActive    *prometheus.GaugeVec
	exchangeDuration   *prometheus.HistogramVec
	checkpointsTotal   *prometheus.CounterVec
	approvalsPending   prometheus.Gauge
	approvalDuration   prometheus.Histogram
	routeOutcomesTotal *prometheus.CounterVec
	sseSubscribers     prometheus.Gauge

	enabled bool
}

// New registers every metric with registry (use prometheus.DefaultRegisterer
// for the global registry). Passing a nil registry disables recording,
// used by tests that don't care about metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return &Metrics{enabled: false}
	}

	factory := promauto.With(registry)
	return &Metrics{
		enabled: true,

		exchangesActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "durableflow",
			Name:      "exchanges_active",
			Help:      "Number of exchanges currently in a non-terminal status, by route and status.",
		}, []string{"route_id", "status"}),

		exchangeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "durableflow",
			Name:      "exchange_duration_seconds",
			Help:      "Wall-clock duration from exchange creation to a terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"route_id", "status"}),

		checkpointsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durableflow",
			Name:      "checkpoints_total",
			Help:      "Checkpoints successfully inserted, by route and step name.",
		}, []string{"route_id", "step_name"}),

		approvalsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "durableflow",
			Name:      "approvals_pending",
			Help:      "Number of approval requests currently PENDING.",
		}),

		approvalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "durableflow",
			Name:      "approval_wait_seconds",
			Help:      "Time from approval creation to decision.",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
		}),

		routeOutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "durableflow",
			Name:      "route_outcomes_total",
			Help:      "Completed exchanges by route and outcome (success/failure).",
		}, []string{"route_id", "outcome"}),

		sseSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "durableflow",
			Name:      "sse_subscribers",
			Help:      "Number of currently connected Server-Sent Events clients.",
		}),
	}
}

// SetExchangesActive records the current count of exchanges in status for
// routeID.
func (m *Metrics) SetExchangesActive(routeID, status string, count float64) {
	if !m.enabled {
		return
	}
	m.exchangesActive.WithLabelValues(routeID, status).Set(count)
}

// ObserveExchangeDuration records how long an exchange took to reach a
// terminal status.
func (m *Metrics) ObserveExchangeDuration(routeID, status string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.exchangeDuration.WithLabelValues(routeID, status).Observe(d.Seconds())
}

// IncCheckpoint records one successfully inserted checkpoint.
func (m *Metrics) IncCheckpoint(routeID, stepName string) {
	if !m.enabled {
		return
	}
	m.checkpointsTotal.WithLabelValues(routeID, stepName).Inc()
}

// SetApprovalsPending records the current PENDING approval count.
func (m *Metrics) SetApprovalsPending(count float64) {
	if !m.enabled {
		return
	}
	m.approvalsPending.Set(count)
}

// ObserveApprovalWait records the time from creation to decision for one
// approval.
func (m *Metrics) ObserveApprovalWait(d time.Duration) {
	if !m.enabled {
		return
	}
	m.approvalDuration.Observe(d.Seconds())
}

// IncRouteOutcome records one completed exchange's outcome for routeID.
func (m *Metrics) IncRouteOutcome(routeID, outcome string) {
	if !m.enabled {
		return
	}
	m.routeOutcomesTotal.WithLabelValues(routeID, outcome).Inc()
}

// SetSSESubscribers records the current SSE client count.
func (m *Metrics) SetSSESubscribers(count float64) {
	if !m.enabled {
		return
	}
	m.sseSubscribers.Set(count)
}
