// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the canvas service.
//
// # Description
//
// Metrics include:
//   - Placement counters and latency by outcome
//   - Board read counters
//   - Board length gauge (updated on external resize)
//   - Live stream subscriber gauge and dropped subscriber counter
//   - History index error counter
//
// Metrics are exposed via the /metrics endpoint when enabled.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every helper is also safe on a nil *Metrics, which records nothing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "canvas"

const (
	placementSubsystem = "placement"
	boardSubsystem     = "board"
	streamSubsystem    = "stream"
	historySubsystem   = "history"
)

// Metrics holds all Prometheus collectors for the service.
//
// # Fields
//
//   - PlacementsTotal: Placements by outcome.
//   - PlacementDurationSeconds: Submit latency by outcome.
//   - BoardReadsTotal: Board reads by status (success, error).
//   - BoardLength: Current board length in pixels.
//   - StreamSubscribers: Connected live stream clients.
//   - StreamDroppedTotal: Subscribers disconnected for falling behind.
//   - HistoryErrorsTotal: History index failures by operation.
type Metrics struct {
	// Labels: outcome (accepted, rate_limited, out_of_bounds, bad_request, internal)
	PlacementsTotal *prometheus.CounterVec

	// Labels: outcome
	PlacementDurationSeconds *prometheus.HistogramVec

	// Labels: status (success, error)
	BoardReadsTotal *prometheus.CounterVec

	BoardLength prometheus.Gauge

	StreamSubscribers prometheus.Gauge

	StreamDroppedTotal prometheus.Counter

	// Labels: operation (index, query, rebuild)
	HistoryErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers every collector with reg.
//
// # Inputs
//
//   - reg: Registry to register with. prometheus.DefaultRegisterer in
//     production, a fresh prometheus.NewRegistry() in tests.
//
// # Outputs
//
//   - *Metrics: Ready to use.
//
// # Limitations
//
//   - Panics on duplicate registration, so call once per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PlacementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: placementSubsystem,
				Name:      "requests_total",
				Help:      "Total placement requests by outcome",
			},
			[]string{"outcome"},
		),

		PlacementDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: placementSubsystem,
				Name:      "duration_seconds",
				Help:      "Placement handling latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
			},
			[]string{"outcome"},
		),

		BoardReadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: boardSubsystem,
				Name:      "reads_total",
				Help:      "Total board reads by status",
			},
			[]string{"status"},
		),

		BoardLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: boardSubsystem,
				Name:      "length_pixels",
				Help:      "Current board length in pixels",
			},
		),

		StreamSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "subscribers",
				Help:      "Number of connected live stream subscribers",
			},
		),

		StreamDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "dropped_total",
				Help:      "Total subscribers disconnected for falling behind",
			},
		),

		HistoryErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: historySubsystem,
				Name:      "errors_total",
				Help:      "Total history index errors by operation",
			},
			[]string{"operation"},
		),
	}
}

// =============================================================================
// Outcomes
// =============================================================================

// Outcome labels a finished placement.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeOutOfBounds Outcome = "out_of_bounds"
	OutcomeBadRequest  Outcome = "bad_request"
	OutcomeInternal    Outcome = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordPlacement counts one placement and observes its latency.
func (m *Metrics) RecordPlacement(outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.PlacementsTotal.WithLabelValues(string(outcome)).Inc()
	m.PlacementDurationSeconds.WithLabelValues(string(outcome)).Observe(seconds)
}

// RecordBoardRead counts one board read.
func (m *Metrics) RecordBoardRead(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.BoardReadsTotal.WithLabelValues(status).Inc()
}

// SetBoardLength records the current board length.
func (m *Metrics) SetBoardLength(length int64) {
	if m == nil {
		return
	}
	m.BoardLength.Set(float64(length))
}

// SubscriberJoined increments the subscriber gauge.
func (m *Metrics) SubscriberJoined() {
	if m == nil {
		return
	}
	m.StreamSubscribers.Inc()
}

// SubscriberLeft decrements the subscriber gauge. dropped marks a
// subscriber removed for not keeping up.
func (m *Metrics) SubscriberLeft(dropped bool) {
	if m == nil {
		return
	}
	m.StreamSubscribers.Dec()
	if dropped {
		m.StreamDroppedTotal.Inc()
	}
}

// RecordHistoryError counts a failed history index operation.
func (m *Metrics) RecordHistoryError(operation string) {
	if m == nil {
		return
	}
	m.HistoryErrorsTotal.WithLabelValues(operation).Inc()
}
