// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegis_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Triage
	TriageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_triage_total",
			Help: "Triage classifications by source",
		},
		[]string{"source"}, // rules, gemini
	)

	TriageFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_triage_fallback_total",
			Help: "LLM triage attempts that fell back to rules, by reason",
		},
		[]string{"reason"}, // unavailable, invalid_schema
	)

	// Lifecycle
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_incident_transitions_total",
			Help: "Incident lifecycle transitions by target status",
		},
		[]string{"to"},
	)

	AssignmentTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_assignment_timeouts_total",
			Help: "Acceptance windows that expired and were auto-rejected",
		},
	)

	// Dispatch
	DispatchDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_dispatch_deliveries_total",
			Help: "Dispatch job outcomes",
		},
		[]string{"outcome"}, // delivered, retry, failed
	)

	DispatchQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegis_dispatch_queue_depth",
			Help: "Queued dispatch jobs per lane",
		},
		[]string{"lane"},
	)

	// Mobile ingestion
	TicketsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_tickets_ingested_total",
			Help: "Mobile tickets accepted by lane",
		},
		[]string{"lane"},
	)

	TicketsFlaggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_tickets_flagged_total",
			Help: "Mobile tickets flagged by the pipeline",
		},
		[]string{"flag"}, // needs_review, likely_duplicate
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, method string, status int, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

// SetQueueDepth publishes the queued job count for one lane.
func SetQueueDepth(lane, depth int) {
	DispatchQueueDepth.WithLabelValues("p" + strconv.Itoa(lane)).Set(float64(depth))
}
