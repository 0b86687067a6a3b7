// Package prometheus exports DubKit runtime metrics: job lifecycle, pipeline
// stage timing, synthesis traffic and queue health.
package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dubkit"

var (
	// jobsEnqueuedTotal counts jobs accepted by the queue, by priority.
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs accepted into the queue",
		},
		[]string{"priority"},
	)

	// jobsCompletedTotal counts jobs that reached the completed state.
	jobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs completed successfully",
		},
	)

	// jobsFailedTotal counts terminal failures by short failure reason.
	jobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that failed terminally",
		},
		[]string{"reason"},
	)

	// jobRetriesTotal counts worker attempts beyond the first.
	jobRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Total number of job retry attempts",
		},
	)

	// jobDuration is a histogram of end-to-end job duration.
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Histogram of end-to-end job execution duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"status"}, // status: success, error
	)

	// stageDuration is a histogram of per-stage pipeline duration.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Histogram of pipeline stage duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// ttsRequestsTotal counts synthesis vendor calls.
	ttsRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_requests_total",
			Help:      "Total number of synthesis vendor requests",
		},
		[]string{"provider", "status"}, // status: success, error
	)

	// ttsRetriesTotal counts synthesis retry attempts.
	ttsRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_retries_total",
			Help:      "Total number of synthesis retry attempts",
		},
		[]string{"provider"},
	)

	// ttsRequestDuration is a histogram of synthesis call latency.
	ttsRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_request_duration_seconds",
			Help:      "Duration of synthesis vendor requests in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	// toolInvocationsTotal counts external tool runs (ffmpeg, ffprobe,
	// separator).
	toolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total number of external tool invocations",
		},
		[]string{"tool", "status"}, // status: success, error
	)

	// toolDuration is a histogram of external tool run duration.
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Duration of external tool invocations in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"tool"},
	)

	// queueDepth is a gauge of envelopes waiting in the queue.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of jobs waiting in the queue",
		},
	)

	// workersActive is a gauge of workers currently executing a job.
	workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_active",
			Help:      "Number of workers currently executing a job",
		},
	)

	// subscribersActive is a gauge of live status stream subscribers.
	subscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_subscribers_active",
			Help:      "Number of live status stream subscribers",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		jobsEnqueuedTotal,
		jobsCompletedTotal,
		jobsFailedTotal,
		jobRetriesTotal,
		jobDuration,
		stageDuration,
		ttsRequestsTotal,
		ttsRetriesTotal,
		ttsRequestDuration,
		toolInvocationsTotal,
		toolDuration,
		queueDepth,
		workersActive,
		subscribersActive,
	}
)

// RecordJobEnqueued records a job accepted into the queue.
func RecordJobEnqueued(priority int) {
	jobsEnqueuedTotal.WithLabelValues(strconv.Itoa(priority)).Inc()
}

// RecordJobCompleted records a successful job with its total duration.
func RecordJobCompleted(durationSeconds float64) {
	jobsCompletedTotal.Inc()
	jobDuration.WithLabelValues(statusSuccess).Observe(durationSeconds)
}

// RecordJobFailed records a terminal failure with its total duration.
func RecordJobFailed(reason string, durationSeconds float64) {
	jobsFailedTotal.WithLabelValues(reason).Inc()
	jobDuration.WithLabelValues(statusError).Observe(durationSeconds)
}

// RecordJobRetry records a retry attempt.
func RecordJobRetry() {
	jobRetriesTotal.Inc()
}

// RecordStageDuration records the duration of one pipeline stage.
func RecordStageDuration(stage string, durationSeconds float64) {
	stageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordTTSRequest records a synthesis vendor call.
func RecordTTSRequest(provider, status string, durationSeconds float64) {
	ttsRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
	ttsRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordTTSRetry records a synthesis retry.
func RecordTTSRetry(provider string) {
	ttsRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordToolInvocation records one external tool run.
func RecordToolInvocation(tool, status string, durationSeconds float64) {
	toolDuration.WithLabelValues(tool).Observe(durationSeconds)
	toolInvocationsTotal.WithLabelValues(tool, status).Inc()
}

// SetQueueDepth sets the waiting-job gauge.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// WorkerStarted and WorkerFinished track the active-worker gauge.
func WorkerStarted() { workersActive.Inc() }

// WorkerFinished decrements the active-worker gauge.
func WorkerFinished() { workersActive.Dec() }

// SubscriberAdded and SubscriberRemoved track the live subscriber gauge.
func SubscriberAdded() { subscribersActive.Inc() }

// SubscriberRemoved decrements the live subscriber gauge.
func SubscriberRemoved() { subscribersActive.Dec() }
