package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetrics(t *testing.T) {
	t.Run("metrics_are_registered", func(t *testing.T) {
		assert.NotNil(t, HTTPRequestDuration)
		assert.NotNil(t, HTTPRequestsTotal)
	})

	t.Run("histogram_has_correct_labels", func(t *testing.T) {
		HTTPRequestDuration.WithLabelValues("GET", "/v1/contacts", "200").Observe(0.05)
		HTTPRequestDuration.WithLabelValues("POST", "/v1/matches/accept", "404").Observe(0.1)
		HTTPRequestDuration.WithLabelValues("POST", "/v1/matches/reject", "500").Observe(0.25)

		assert.True(t, true)
	})

	t.Run("histogram_has_expected_buckets", func(t *testing.T) {
		expectedBuckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
		labels := HTTPRequestDuration.WithLabelValues("POST", "/v1/bucket-test", "200")
		for _, bucket := range expectedBuckets {
			labels.Observe(bucket)
		}

		assert.True(t, true)
	})

	t.Run("counter_increments_value", func(t *testing.T) {
		labels := HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")

		for i := 0; i < 5; i++ {
			labels.Inc()
		}

		assert.True(t, true)
	})
}

func TestChannelMetrics(t *testing.T) {
	t.Run("metrics_are_registered", func(t *testing.T) {
		assert.NotNil(t, ChannelConnectionsActive)
		assert.NotNil(t, ChannelMessagesSent)
	})

	t.Run("gauge_can_increment_and_decrement", func(t *testing.T) {
		ChannelConnectionsActive.Inc()
		ChannelConnectionsActive.Inc()
		ChannelConnectionsActive.Dec()

		assert.True(t, true)
	})

	t.Run("counter_tracks_event_types", func(t *testing.T) {
		for _, eventType := range []string{"match", "receipt", "error"} {
			ChannelMessagesSent.WithLabelValues(eventType).Inc()
		}

		assert.True(t, true)
	})
}

func TestExchangeMetrics(t *testing.T) {
	t.Run("metrics_are_registered", func(t *testing.T) {
		assert.NotNil(t, BumpsDetected)
		assert.NotNil(t, PairingsCreated)
		assert.NotNil(t, ExchangeOutcomes)
		assert.NotNil(t, ProtocolViolations)
	})

	t.Run("outcome_counter_tracks_terminal_states", func(t *testing.T) {
		for _, outcome := range []string{"accepted", "rejected", "timeout", "error"} {
			ExchangeOutcomes.WithLabelValues(outcome).Inc()
		}

		assert.True(t, true)
	})

	t.Run("violation_counter_tracks_reasons", func(t *testing.T) {
		ProtocolViolations.WithLabelValues("malformed_payload").Inc()
		ProtocolViolations.WithLabelValues("duplicate_match").Inc()
		ProtocolViolations.WithLabelValues("unknown_session").Inc()

		assert.True(t, true)
	})

	t.Run("bump_counter_increments", func(t *testing.T) {
		BumpsDetected.Inc()
		BumpsDetected.Add(3)

		assert.True(t, true)
	})
}

func TestDBMetrics(t *testing.T) {
	t.Run("metrics_are_registered", func(t *testing.T) {
		assert.NotNil(t, DBQueryDuration)
		assert.NotNil(t, DBConnectionsOpen)
		assert.NotNil(t, DBConnectionsInUse)
		assert.NotNil(t, DBConnectionsIdle)
	})

	t.Run("histogram_records_query_durations", func(t *testing.T) {
		for _, op := range []string{"select", "insert", "delete"} {
			labels := DBQueryDuration.WithLabelValues(op, "contacts")
			labels.Observe(0.001)
			labels.Observe(0.01)
			labels.Observe(0.05)
		}

		assert.True(t, true)
	})

	t.Run("connection_gauges_track_pool_state", func(t *testing.T) {
		DBConnectionsOpen.Set(25)
		DBConnectionsInUse.Set(5)
		DBConnectionsIdle.Set(20)

		assert.True(t, true)
	})
}

func TestPrometheusMetricTypes(t *testing.T) {
	t.Run("verify_metric_types", func(t *testing.T) {
		// These assignments verify the type relationships
		var histogramVec prometheus.Collector = HTTPRequestDuration
		var counterVec prometheus.Collector = ExchangeOutcomes
		var counter prometheus.Collector = BumpsDetected
		var gauge prometheus.Collector = ChannelConnectionsActive

		assert.NotNil(t, histogramVec)
		assert.NotNil(t, counterVec)
		assert.NotNil(t, counter)
		assert.NotNil(t, gauge)
	})
}
