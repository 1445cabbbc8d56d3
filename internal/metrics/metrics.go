// Package metrics holds the prometheus collectors shared by the API and the
// worker. Collectors are registered on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "floorplan"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Jobs accepted by the queue",
		},
		[]string{"task"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "finished_total",
			Help:      "Terminal transitions recorded by the queue",
		},
		[]string{"status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "stage_duration_seconds",
			Help:      "Time spent per job stage",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	pipelineLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "loads_total",
			Help:      "Model pipeline loads by result",
		},
		[]string{"result"},
	)

	annotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "annotate",
			Name:      "runs_total",
			Help:      "Annotation pipeline runs by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		jobsEnqueued,
		jobsFinished,
		stageDuration,
		pipelineLoads,
		annotations,
	)
}

// JobEnqueued counts an accepted job.
func JobEnqueued(task string) { jobsEnqueued.WithLabelValues(task).Inc() }

// JobFinished counts a terminal transition.
func JobFinished(status string) { jobsFinished.WithLabelValues(status).Inc() }

// ObserveStage records how long a worker stage took.
func ObserveStage(stage string, seconds float64) {
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

// PipelineLoad counts a pipeline load attempt; result is "ok" or "error".
func PipelineLoad(result string) { pipelineLoads.WithLabelValues(result).Inc() }

// AnnotationRun counts an annotation outcome: applied, empty or unavailable.
func AnnotationRun(outcome string) { annotations.WithLabelValues(outcome).Inc() }
