// Package metrics provides Prometheus metrics for the thumbnailer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "thumbnailer"

// Dedup paths taken by the producer.
const (
	PathFastPath = "fast_path"
	PathStoreHit = "store_hit"
	PathComputed = "computed"
)

var (
	// SubmissionsTotal counts Submit calls by outcome.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of thumbnail submissions",
		},
		[]string{"status"},
	)

	// JobsTotal counts finished producer runs.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of finished thumbnail jobs",
		},
		[]string{"status", "path"},
	)

	// JobDuration measures producer runs end to end.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of thumbnail jobs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// FetchBytes observes downloaded source sizes.
	FetchBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_bytes",
			Help:      "Size of downloaded source images in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// ErrorsTotal counts errors by stage.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"stage", "failure_type"},
	)

	// QueueDepth tracks jobs waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of jobs waiting for a worker",
		},
	)
)

// RecordSubmission records the outcome of one Submit call.
func RecordSubmission(status string) {
	SubmissionsTotal.WithLabelValues(status).Inc()
}

// RecordJob records a finished job.
func RecordJob(status, path string, seconds float64) {
	JobsTotal.WithLabelValues(status, path).Inc()
	if path != "" {
		JobDuration.WithLabelValues(path).Observe(seconds)
	}
}

// RecordFetch records a successful download.
func RecordFetch(size int64) {
	FetchBytes.Observe(float64(size))
}

// RecordError records an error.
func RecordError(stage, failureType string) {
	ErrorsTotal.WithLabelValues(stage, failureType).Inc()
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}
