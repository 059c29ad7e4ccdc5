package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var partsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ocrflow_parts_submitted_total",
	Help: "Number of parts submitted to the OCR service",
})

var pollAttempts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ocrflow_poll_attempts_total",
	Help: "Number of status polls issued",
})

var partOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ocrflow_part_outcomes_total",
	Help: "Terminal part outcomes labelled by state",
}, []string{"state"})

var fileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ocrflow_file_outcomes_total",
	Help: "Terminal file outcomes labelled by outcome",
}, []string{"outcome"})

var fileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ocrflow_file_duration_seconds",
	Help:    "Wall time spent on one source file.",
	Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
}, []string{"outcome"})

var deletionFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ocrflow_job_deletion_failures_total",
	Help: "Best-effort remote job deletions that failed",
})

func IncrementPartsSubmitted() {
	partsSubmitted.Inc()
}

func IncrementPollAttempts() {
	pollAttempts.Inc()
}

func CapturePartOutcome(state string) {
	partOutcomes.WithLabelValues(state).Inc()
}

func CaptureFileOutcome(outcome string, timeElapsed time.Duration) {
	fileOutcomes.WithLabelValues(outcome).Inc()
	fileDuration.WithLabelValues(outcome).Observe(timeElapsed.Seconds())
}

func IncrementDeletionFailures() {
	deletionFailures.Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
