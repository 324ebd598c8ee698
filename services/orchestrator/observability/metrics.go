// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the
// orchestrator.
//
// # Description
//
// Metrics cover the streaming chat path (request counts, active
// streams, latency histograms), admission control (rate limit
// rejections, filter blocks), and citation extraction (matches per
// grammar). Exposed via the /metrics endpoint for Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "answerdock"

const chatSubsystem = "chat"

// ChatMetrics holds all Prometheus metrics for the chat service.
//
// # Fields
//
//   - RequestsTotal: Counter of requests by endpoint and status
//   - ActiveStreams: Gauge of currently open SSE streams
//   - StreamDurationSeconds: Histogram of total stream duration
//   - TimeToFirstDeltaSeconds: Histogram of admission-to-first-delta latency
//   - RateLimitRejectionsTotal: Counter of 429s by endpoint and window
//   - FilterBlocksTotal: Counter of screened-out questions by category
//   - CitationsTotal: Counter of citation matches by grammar
//   - KeepAlivesTotal: Counter of keepalive pings sent
//   - ClientDisconnectsTotal: Counter of mid-stream disconnects
type ChatMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint (chat_stream, documents), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open SSE connections.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures total stream duration.
	// Labels: status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// TimeToFirstDeltaSeconds measures latency from admission to the
	// first delta frame.
	TimeToFirstDeltaSeconds prometheus.Histogram

	// RateLimitRejectionsTotal counts admission rejections.
	// Labels: endpoint (chat, upload), reason (minute, daily)
	RateLimitRejectionsTotal *prometheus.CounterVec

	// FilterBlocksTotal counts blocked questions.
	// Labels: category (inappropriate, injection, offtopic)
	FilterBlocksTotal *prometheus.CounterVec

	// CitationsTotal counts extracted citation matches.
	// Labels: grammar (canonical, provider_paged, ...)
	CitationsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnects mid-stream.
	ClientDisconnectsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance. Initialized by InitMetrics().
var DefaultMetrics *ChatMetrics

// InitMetrics creates and registers all metrics on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *ChatMetrics {
	DefaultMetrics = &ChatMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open SSE streams",
			},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		TimeToFirstDeltaSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_delta_seconds",
				Help:      "Time from admission to first delta frame in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		RateLimitRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "rate_limit_rejections_total",
				Help:      "Admission rejections by endpoint and violated window",
			},
			[]string{"endpoint", "reason"},
		),

		FilterBlocksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "filter_blocks_total",
				Help:      "Questions blocked by the content filter, by category",
			},
			[]string{"category"},
		),

		CitationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "citations_total",
				Help:      "Citation matches by grammar",
			},
			[]string{"grammar"},
		),

		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
func (m *ChatMetrics) RecordRequest(endpoint string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *ChatMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *ChatMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordStreamDuration records the total stream duration.
func (m *ChatMetrics) RecordStreamDuration(seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordTimeToFirstDelta records admission-to-first-delta latency.
func (m *ChatMetrics) RecordTimeToFirstDelta(seconds float64) {
	m.TimeToFirstDeltaSeconds.Observe(seconds)
}

// RecordRateLimitRejection counts one 429 by endpoint and window.
func (m *ChatMetrics) RecordRateLimitRejection(endpoint, reason string) {
	m.RateLimitRejectionsTotal.WithLabelValues(endpoint, reason).Inc()
}

// RecordFilterBlock counts one blocked question by category.
func (m *ChatMetrics) RecordFilterBlock(category string) {
	m.FilterBlocksTotal.WithLabelValues(category).Inc()
}

// RecordCitations adds citation match counts per grammar.
func (m *ChatMetrics) RecordCitations(hits map[string]int) {
	for grammar, n := range hits {
		m.CitationsTotal.WithLabelValues(grammar).Add(float64(n))
	}
}

// RecordKeepAlive increments the keepalive counter.
func (m *ChatMetrics) RecordKeepAlive() {
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *ChatMetrics) RecordClientDisconnect() {
	m.ClientDisconnectsTotal.Inc()
}
