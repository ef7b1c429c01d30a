// Package metrics exposes pipeline instrumentation through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry with the pipeline collectors.
type Recorder struct {
	registry         *prometheus.Registry
	handler          http.Handler
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	ingested         prometheus.Counter
	transcriptions   *prometheus.CounterVec
	feedback         *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	watchdogTimeouts prometheus.Counter
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harkness_pipeline_runs_total",
			Help: "Pipeline passes by outcome",
		}, []string{"outcome"}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harkness_pipeline_run_seconds",
			Help:    "Duration of pipeline passes in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harkness_discussions_ingested_total",
			Help: "Recordings turned into discussions",
		}),
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harkness_transcriptions_total",
			Help: "Transcription attempts by result",
		}, []string{"result"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harkness_feedback_generated_total",
			Help: "Feedback generation calls by mode and result",
		}, []string{"mode", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harkness_deliveries_total",
			Help: "Distribution deliveries by channel and result",
		}, []string{"channel", "result"}),
		watchdogTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harkness_watchdog_timeouts_total",
			Help: "Discussions failed by the transcription watchdog",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.pipelineRuns,
		r.pipelineDuration,
		r.ingested,
		r.transcriptions,
		r.feedback,
		r.deliveries,
		r.watchdogTimeouts,
	)
	r.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return r.handler
}

func (r *Recorder) PipelineRun(outcome string, took time.Duration) {
	r.pipelineRuns.WithLabelValues(outcome).Inc()
	r.pipelineDuration.Observe(took.Seconds())
}

func (r *Recorder) DiscussionIngested() {
	r.ingested.Inc()
}

func (r *Recorder) Transcription(result string) {
	r.transcriptions.WithLabelValues(result).Inc()
}

func (r *Recorder) FeedbackGenerated(mode, result string) {
	r.feedback.WithLabelValues(mode, result).Inc()
}

func (r *Recorder) Delivery(channel, result string) {
	r.deliveries.WithLabelValues(channel, result).Inc()
}

func (r *Recorder) WatchdogTimeout() {
	r.watchdogTimeouts.Inc()
}
