package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Exchange channel metrics
	ChannelConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exchange_channel_connections_active",
			Help: "Number of exchange sessions connected to the channel",
		},
	)

	ChannelMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_channel_messages_sent_total",
			Help: "Total number of events pushed over the session channel",
		},
		[]string{"type"},
	)

	// Exchange protocol metrics
	BumpsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bumps_detected_total",
			Help: "Total number of bump gestures recognized by the detector",
		},
	)

	PairingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairings_created_total",
			Help: "Total number of pairings minted by the matching service",
		},
	)

	ExchangeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_outcomes_total",
			Help: "Terminal exchange outcomes by state",
		},
		[]string{"outcome"},
	)

	ProtocolViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocol_violations_total",
			Help: "Malformed or unexpected events dropped at the wire boundary",
		},
		[]string{"reason"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)
