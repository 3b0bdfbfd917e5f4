// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the devtools bridge.
//
// # Description
//
// Metrics cover the adapter connection lifecycle, inbound frame traffic and
// correlated requests:
//   - Connection counters (accepted, replaced, closed) and an active gauge
//   - Frame counters by message type, dropped frames by reason
//   - Pushed events by stream
//   - Request counters by action and outcome, latency histogram
//
// Metrics are exposed on GET /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "devtools"

const bridgeSubsystem = "bridge"

// Outcome labels for RequestsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeRemote   = "remote_error"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "connection_lost"
	OutcomeCanceled = "canceled"
	OutcomeFailed   = "failed"
)

// BridgeMetrics holds all Prometheus metrics for the bridge.
//
// # Fields
//
//   - ConnectionsTotal: Adapter connections by event (accepted, replaced, closed, rejected)
//   - ActiveConnections: 1 while an adapter socket is attached
//   - FramesTotal: Inbound frames by message type
//   - DroppedFramesTotal: Inbound frames discarded by reason
//   - EventsTotal: Pushed telemetry events by stream
//   - RequestsTotal: Correlated requests by action and outcome
//   - RequestDurationSeconds: Request latency by action
type BridgeMetrics struct {
	ConnectionsTotal       *prometheus.CounterVec
	ActiveConnections      prometheus.Gauge
	FramesTotal            *prometheus.CounterVec
	DroppedFramesTotal     *prometheus.CounterVec
	EventsTotal            *prometheus.CounterVec
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
}

// NewBridgeMetrics creates and registers all metrics with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Tests pass prometheus.NewRegistry().
//
// # Outputs
//
//   - *BridgeMetrics: Ready to record.
//
// # Limitations
//
//   - Panics on duplicate registration against the same registry.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	factory := promauto.With(reg)
	return &BridgeMetrics{
		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "connections_total",
				Help:      "Adapter connection lifecycle events",
			},
			[]string{"event"},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "active_connections",
				Help:      "Adapter sockets currently attached (0 or 1)",
			},
		),
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "frames_total",
				Help:      "Inbound frames by message type",
			},
			[]string{"type"},
		),
		DroppedFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "dropped_frames_total",
				Help:      "Inbound frames discarded by reason",
			},
			[]string{"reason"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "events_total",
				Help:      "Pushed telemetry events by stream",
			},
			[]string{"stream"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "requests_total",
				Help:      "Correlated adapter requests by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: bridgeSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Adapter request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),
	}
}

// InitMetrics registers the bridge metrics with the default registry.
func InitMetrics() *BridgeMetrics {
	return NewBridgeMetrics(prometheus.DefaultRegisterer)
}

// =============================================================================
// Recording Helpers
// =============================================================================

// ConnectionAccepted records a new adapter socket. replaced is true when it
// displaced an existing one.
func (m *BridgeMetrics) ConnectionAccepted(replaced bool) {
	m.ConnectionsTotal.WithLabelValues("accepted").Inc()
	if replaced {
		m.ConnectionsTotal.WithLabelValues("replaced").Inc()
	} else {
		m.ActiveConnections.Inc()
	}
}

// ConnectionClosed records the active socket going away without a
// replacement.
func (m *BridgeMetrics) ConnectionClosed() {
	m.ConnectionsTotal.WithLabelValues("closed").Inc()
	m.ActiveConnections.Dec()
}

// ConnectionRejected records a socket refused before attaching.
func (m *BridgeMetrics) ConnectionRejected(reason string) {
	m.ConnectionsTotal.WithLabelValues("rejected_" + reason).Inc()
}

// FrameReceived records an inbound frame that passed validation.
func (m *BridgeMetrics) FrameReceived(msgType string) {
	m.FramesTotal.WithLabelValues(msgType).Inc()
}

// FrameDropped records a discarded inbound frame.
func (m *BridgeMetrics) FrameDropped(reason string) {
	m.DroppedFramesTotal.WithLabelValues(reason).Inc()
}

// EventPushed records one telemetry event.
func (m *BridgeMetrics) EventPushed(stream string) {
	m.EventsTotal.WithLabelValues(stream).Inc()
}

// RequestCompleted records a settled request.
func (m *BridgeMetrics) RequestCompleted(action, outcome string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(action, outcome).Inc()
	m.RequestDurationSeconds.WithLabelValues(action).Observe(elapsed.Seconds())
}
