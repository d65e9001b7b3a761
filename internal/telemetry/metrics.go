/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holdkeeper_api_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdkeeper_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "holdkeeper_api_active_connections",
			Help: "In-flight HTTP requests.",
		},
	)
)

// Coordinator metrics
var (
	CoordinatorOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdkeeper_coordinator_operations_total",
			Help: "Coordinator operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	CoordinatorOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holdkeeper_coordinator_operation_duration_seconds",
			Help:    "Time from dequeue to reply for coordinator operations.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"operation"},
	)

	ActiveCoordinators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "holdkeeper_active_coordinators",
			Help: "Coordinators currently resident in this instance.",
		},
	)

	HoldsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "holdkeeper_holds_created_total",
			Help: "Holds placed.",
		},
	)

	HoldsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "holdkeeper_holds_expired_total",
			Help: "Holds removed because their expiry passed.",
		},
	)

	AlarmsFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "holdkeeper_alarms_fired_total",
			Help: "Expiry alarms delivered to coordinators.",
		},
	)

	AlarmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdkeeper_alarm_errors_total",
			Help: "Failures arming, disarming or delivering expiry alarms.",
		},
		[]string{"stage"},
	)
)

// Storage metrics
var (
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holdkeeper_storage_operation_duration_seconds",
			Help:    "Hold store latency by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdkeeper_storage_errors_total",
			Help: "Hold store failures by operation.",
		},
		[]string{"operation"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "holdkeeper_database_query_duration_seconds",
			Help:    "Database query latency by operation and table.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdkeeper_database_errors_total",
			Help: "Database errors by operation and table.",
		},
		[]string{"operation", "table"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "holdkeeper_database_connections_active",
			Help: "Open database connections.",
		},
	)
)

// Event metrics
var (
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holdkeeper_events_published_total",
			Help: "Hold lifecycle events published by type.",
		},
		[]string{"event_type"},
	)
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation records the outcome and duration of a coordinator operation.
func ObserveOperation(operation, outcome string, seconds float64) {
	CoordinatorOperationsTotal.WithLabelValues(operation, outcome).Inc()
	CoordinatorOperationDuration.WithLabelValues(operation).Observe(seconds)
}
