// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

// Package metrics provides Prometheus instrumentation for the monitor:
// detection throughput, confidence distribution, escalation outcomes,
// learning-store activity, sink/WAL health, and API/WebSocket load.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection pipeline
	EventsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_risk_events_total",
			Help: "Total risk events raised, by type and severity",
		},
		[]string{"type", "severity"},
	)

	EventsDebounced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_risk_events_debounced_total",
			Help: "Total duplicate risk events suppressed by the debounce window",
		},
		[]string{"type"},
	)

	DetectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_detection_errors_total",
			Help: "Total detector check failures",
		},
		[]string{"detector"},
	)

	// Confidence scoring
	ConfidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outrider_confidence_score",
			Help:    "Distribution of computed confidence scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 95, 100},
		},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_scored_actions_total",
			Help: "Total scored events by decided action",
		},
		[]string{"action"},
	)

	// Fatigue / panic estimation
	FatigueScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outrider_fatigue_score",
			Help: "Current fatigue score (0-100)",
		},
	)

	PanicScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outrider_panic_score",
			Help: "Current panic score (0-100)",
		},
	)

	NudgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_nudges_total",
			Help: "Total fatigue nudges emitted, by band",
		},
		[]string{"band"},
	)

	// Confirmation dialogue
	ConfirmationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_confirmation_outcomes_total",
			Help: "Total confirmation sessions by terminal outcome",
		},
		[]string{"outcome"},
	)

	// Emergency escalation
	EmergenciesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_emergencies_started_total",
			Help: "Total emergency escalations started, by trigger",
		},
		[]string{"trigger"},
	)

	EmergencyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_emergency_outcomes_total",
			Help: "Total emergencies by terminal status",
		},
		[]string{"status"},
	)

	// Location memory
	ReinforcementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_reinforcements_total",
			Help: "Total location-memory reinforcements, by kind (false_alarm, true_alarm)",
		},
		[]string{"kind"},
	)

	LocationCells = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outrider_location_cells",
			Help: "Number of learned location cells in the local store",
		},
	)

	SyncFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outrider_remote_sync_failures_total",
			Help: "Total failed remote sync attempts (retried opportunistically)",
		},
	)

	// WAL / persistence sink
	WALPendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outrider_wal_pending_entries",
			Help: "Unconfirmed entries in the durable write-ahead log",
		},
	)

	WALWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outrider_wal_writes_total",
			Help: "Total WAL write operations",
		},
	)

	WALRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outrider_wal_retries_total",
			Help: "Total WAL publish retry attempts",
		},
	)

	SinkRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_sink_records_total",
			Help: "Total records accepted by the persistence sink, by kind",
		},
		[]string{"kind"},
	)

	// Pipeline loop
	PipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outrider_pipeline_queue_depth",
			Help: "Messages waiting in the pipeline inbound queue",
		},
	)

	PipelineDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outrider_pipeline_dropped_total",
			Help: "Inbound messages dropped because the pipeline queue was full",
		},
	)

	// Weather collaborator
	WeatherFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_weather_fetches_total",
			Help: "Weather snapshot fetches, by result (ok, error, breaker_open)",
		},
		[]string{"result"},
	)

	// API / WebSocket surface
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outrider_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outrider_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)

	WSActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outrider_websocket_connections",
			Help: "Currently connected WebSocket clients",
		},
	)
)

// ObserveAPIRequest records one API request observation.
func ObserveAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
