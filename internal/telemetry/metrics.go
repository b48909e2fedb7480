/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics, the HTTP middleware that
// feeds them, and OpenTelemetry trace setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint, status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mixroom",
			Name:      "api_requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mixroom",
			Name:      "api_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixroom",
		Name:      "api_active_connections",
		Help:      "In-flight HTTP requests",
	})

	// WSConnections gauges open websocket connections.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixroom",
		Name:      "ws_connections",
		Help:      "Open websocket connections",
	})

	// RoomsLive gauges live rooms.
	RoomsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixroom",
		Name:      "rooms_live",
		Help:      "Live rooms",
	})

	// EventsTotal counts processed client events by type and outcome
	// (accepted, rejected, duplicate, rate_limited, dropped).
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mixroom",
			Name:      "events_total",
			Help:      "Processed client events",
		},
		[]string{"type", "outcome"},
	)

	// EventApplyDuration tracks mutation apply latency.
	EventApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mixroom",
			Name:      "event_apply_duration_seconds",
			Help:      "Mutation apply duration",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"type"},
	)

	// BroadcastsDropped counts outbound messages dropped because a client's
	// send buffer was full.
	BroadcastsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mixroom",
			Name:      "broadcasts_dropped_total",
			Help:      "Outbound messages dropped on full client buffers",
		},
		[]string{"type"},
	)

	// BeaconTicksTotal counts beacon frames published.
	BeaconTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mixroom",
		Name:      "beacon_ticks_total",
		Help:      "Beacon frames published",
	})

	// DatabaseQueryDuration tracks catalog query latency by operation and
	// table.
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mixroom",
			Name:      "database_query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	// DatabaseErrorsTotal counts catalog query errors.
	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mixroom",
			Name:      "database_errors_total",
			Help:      "Database errors",
		},
		[]string{"operation", "kind"},
	)

	// DatabaseConnectionsActive gauges open catalog connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixroom",
		Name:      "database_connections_active",
		Help:      "Open database connections",
	})

	// PersistOperations counts snapshot sink operations by sink and result.
	PersistOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mixroom",
			Name:      "persist_operations_total",
			Help:      "Snapshot persistence operations",
		},
		[]string{"sink", "result"},
	)
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
