package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the preview updater
type Metrics struct {
	// Thumbnail builder metrics
	ThumbnailsBuilt prometheus.Counter
	BuildErrors     prometheus.Counter
	BuildDuration   prometheus.Histogram

	// Remote submit metrics
	SubmitsAttempted   prometheus.Counter
	SubmitsSucceeded   prometheus.Counter
	SubmitsRateLimited prometheus.Counter
	SubmitsFailed      prometheus.Counter
	SubmitDuration     prometheus.Histogram

	// Retry metrics
	RetriesScheduled prometheus.Counter
	RetriesCancelled prometheus.Counter
	PendingRetry     prometheus.Gauge
}

// New creates and registers all metrics on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ThumbnailsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamthumb_thumbnails_built_total",
			Help: "Total number of thumbnails built",
		}),
		BuildErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamthumb_build_errors_total",
			Help: "Total number of thumbnail render failures",
		}),
		BuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamthumb_build_duration_seconds",
			Help:    "Time spent resizing and encoding thumbnails",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),

		SubmitsAttempted: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamthumb_submits_attempted_total",
			Help: "Total number of remote thumbnail submissions attempted",
		}),
		SubmitsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamthumb_submits_succeeded_total",
			Help: "Total number of remote thumbnail submissions that succeeded",
		}),
		SubmitsRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamthumb_submits_rate_limited_total",
			Help: "Total number of remote submissions rejected with 429",
		}),
		SubmitsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamthumb_submits_failed_total",
			Help: "Total number of remote submissions that failed with a non-429 status",
		}),
		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamthumb_submit_duration_seconds",
			Help:    "Time spent submitting thumbnails to the remote endpoint",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),

		RetriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamthumb_retries_scheduled_total",
			Help: "Total number of rate-limit retries scheduled",
		}),
		RetriesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamthumb_retries_cancelled_total",
			Help: "Total number of pending retries cancelled before firing",
		}),
		PendingRetry: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamthumb_pending_retry",
			Help: "Whether a rate-limit retry is currently pending (0 or 1)",
		}),
	}
}
