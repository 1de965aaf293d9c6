package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsCreated counts persisted notification rows by type.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecoord_notifications_created_total",
			Help: "Total number of notification records persisted",
		},
		[]string{"type"},
	)

	// NotificationsSkipped counts rows skipped at insert time (dedup conflict or row failure).
	NotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecoord_notifications_skipped_total",
			Help: "Total number of notification rows that were not persisted",
		},
		[]string{"reason"},
	)

	// DeliveryOutcomes records channel delivery results (channel=realtime|push, result=success|failure|invalid_token|offline).
	DeliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecoord_delivery_outcomes_total",
			Help: "Delivery attempts per channel and result",
		},
		[]string{"channel", "result"},
	)

	// SweepRuns counts sweep ticks by sweep name and result (ok|error|skipped).
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecoord_sweep_runs_total",
			Help: "Total number of scheduled sweep ticks",
		},
		[]string{"sweep", "result"},
	)

	// SweepDuration measures how long each sweep tick takes.
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carecoord_sweep_duration_seconds",
			Help:    "Scheduled sweep duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	// RealtimeConnections tracks open websocket connections.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carecoord_realtime_connections",
			Help: "Number of open realtime connections",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carecoord_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
