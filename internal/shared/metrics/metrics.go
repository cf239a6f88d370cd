package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	generationStartedTotal   = newCounter("cv_generation_started_total", "Total generations started")
	generationCompletedTotal = newCounter("cv_generation_completed_total", "Total generations completed")
	generationFailedTotal    = newCounter("cv_generation_failed_total", "Total generations failed")
	generationTimeoutTotal   = newCounter("cv_generation_timeout_total", "Total compiler runs killed by timeout")

	jobsEnqueuedTotal             = newCounter("cv_jobs_enqueued_total", "Total generation jobs enqueued")
	jobsReceivedTotal             = newCounter("cv_jobs_received_total", "Total generation jobs received by workers")
	jobsDeletedUnrecoverableTotal = newCounter("cv_jobs_deleted_unrecoverable_total", "Total unparseable jobs dropped")

	compileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cv_compile_duration_ms",
		Help:    "Compiler run duration in milliseconds, successful and failed runs",
		Buckets: []float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
	})
)

func init() {
	registry.MustRegister(compileDuration)
}

func newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	registry.MustRegister(c)
	return c
}

// IncGenerationStarted increments the started counter.
func IncGenerationStarted() { generationStartedTotal.Inc() }

// IncGenerationCompleted increments the completed counter.
func IncGenerationCompleted() { generationCompletedTotal.Inc() }

// IncGenerationFailed increments the failed counter.
func IncGenerationFailed() { generationFailedTotal.Inc() }

// IncGenerationTimeout increments the compiler timeout counter.
func IncGenerationTimeout() { generationTimeoutTotal.Inc() }

// IncJobsEnqueued counts generations handed to a queue.
func IncJobsEnqueued() { jobsEnqueuedTotal.Inc() }

// IncJobsReceived counts queue messages picked up by a worker.
func IncJobsReceived() { jobsReceivedTotal.Inc() }

// IncJobsDeletedUnrecoverable counts poison messages dropped by a worker.
func IncJobsDeletedUnrecoverable() { jobsDeletedUnrecoverableTotal.Inc() }

// ObserveCompileDurationMs records one compiler run in milliseconds.
func ObserveCompileDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	compileDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
