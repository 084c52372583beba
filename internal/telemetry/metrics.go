package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_jobs_submitted_total", Help: "Jobs accepted by the submit endpoint"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_jobs_completed_total", Help: "Jobs that reached completed"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_jobs_failed_total", Help: "Jobs that reached failed"})
	MessagesDropped  = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_messages_dropped_total", Help: "Malformed queue messages acked and dropped"})
	MessagesNoop     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_messages_noop_total", Help: "Redeliveries resolved by the idempotency guard"})
	MessagesRequeued = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_messages_requeued_total", Help: "Messages left for broker redelivery"})
	PublishFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_publish_failures_total", Help: "Queue publishes that failed at submit time"})
	MockSyntheses    = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_mock_syntheses_total", Help: "Syntheses served in mock mode"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "tts_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tts_queue_depth", Help: "Ready queue depth"})
	PendingBacklog   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tts_pending_backlog", Help: "Jobs in the store still pending"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tts_inflight", Help: "Messages currently leased"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			MessagesDropped,
			MessagesNoop,
			MessagesRequeued,
			PublishFailures,
			MockSyntheses,
			RateLimitRejects,
			QueueDepthGauge,
			PendingBacklog,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
